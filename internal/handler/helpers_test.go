package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/service"
	"github.com/stemsi/exstem-lms/internal/validator"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

func newAuthService(t *testing.T) *service.AuthService {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return service.NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, rdb)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

type fakeStudentStore struct {
	mu       sync.Mutex
	students map[string]*model.Student
	active   map[int][]model.ActiveTest
}

func newFakeStudentStore() *fakeStudentStore {
	return &fakeStudentStore{students: map[string]*model.Student{}, active: map[int][]model.ActiveTest{}}
}

func (s *fakeStudentStore) GetByID(_ context.Context, id int) (*model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.students {
		if st.ID == id {
			cp := *st
			return &cp, nil
		}
	}
	return nil, repository.ErrStudentNotFound
}

func (s *fakeStudentStore) GetByNISN(_ context.Context, nisn string) (*model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[nisn]
	if !ok {
		return nil, repository.ErrStudentNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *fakeStudentStore) Create(_ context.Context, st *model.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = len(s.students) + 1
	cp := *st
	s.students[st.NISN] = &cp
	return nil
}

func (s *fakeStudentStore) UpdatePassword(context.Context, int, string) error { return nil }

func (s *fakeStudentStore) ListActiveTests(_ context.Context, studentID int) ([]model.ActiveTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[studentID], nil
}

type fakeTests struct {
	test *model.Test
}

func (f *fakeTests) FetchTestByID(_ context.Context, id uuid.UUID) (*model.Test, error) {
	if f.test == nil || f.test.ID != id {
		return nil, repository.ErrTestNotFound
	}
	cp := *f.test
	return &cp, nil
}

type fakeSubmissions struct {
	mu      sync.Mutex
	sub     *model.Submission
	updates []model.SubmissionUpdate
}

func (f *fakeSubmissions) FetchSubmission(_ context.Context, studentID int, testID uuid.UUID) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil || f.sub.StudentID != studentID || f.sub.TestID != testID {
		return nil, nil
	}
	cp := *f.sub
	return &cp, nil
}

func (f *fakeSubmissions) UpdateSubmission(_ context.Context, id uuid.UUID, upd *model.SubmissionUpdate) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, *upd)
	f.sub.Answers = upd.Answers
	if upd.Status != nil {
		f.sub.Status = *upd.Status
		f.sub.SubmittedAt = upd.SubmittedAt
	}
	cp := *f.sub
	return &cp, nil
}

func (f *fakeSubmissions) lastUpdate() (model.SubmissionUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return model.SubmissionUpdate{}, false
	}
	return f.updates[len(f.updates)-1], true
}

type fakeFiles struct{}

func (fakeFiles) Upload(_ context.Context, f *model.FileUpload) (string, error) {
	return "/uploads/answers/" + f.Name, nil
}

func (fakeFiles) Delete(context.Context, string) error { return nil }
