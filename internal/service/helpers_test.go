package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

var errBoom = errors.New("boom")

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

type fakeTestStore struct {
	mu    sync.Mutex
	tests map[uuid.UUID]*model.Test
	gets  int
}

func newFakeTestStore(tests ...*model.Test) *fakeTestStore {
	s := &fakeTestStore{tests: map[uuid.UUID]*model.Test{}}
	for _, t := range tests {
		s.tests[t.ID] = t
	}
	return s
}

func (s *fakeTestStore) GetByID(_ context.Context, id uuid.UUID) (*model.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	t, ok := s.tests[id]
	if !ok {
		return nil, repository.ErrTestNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTestStore) ListActive(context.Context) ([]model.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Test
	for _, t := range s.tests {
		if t.IsActive {
			out = append(out, model.Test{ID: t.ID, Title: t.Title, IsActive: true})
		}
	}
	return out, nil
}

func (s *fakeTestStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

type submitCall struct {
	id          uuid.UUID
	answers     model.AnswerMap
	startedAt   time.Time
	submittedAt time.Time
}

type fakeSubmissionStore struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]*model.Submission
	submits []submitCall
	fail    error
}

func newFakeSubmissionStore(subs ...*model.Submission) *fakeSubmissionStore {
	s := &fakeSubmissionStore{subs: map[uuid.UUID]*model.Submission{}}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *fakeSubmissionStore) GetByStudentAndTest(_ context.Context, studentID int, testID uuid.UUID) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.StudentID == studentID && sub.TestID == testID {
			cp := *sub
			cp.Answers = sub.Answers.Clone()
			return &cp, nil
		}
	}
	return nil, repository.ErrSubmissionNotFound
}

func (s *fakeSubmissionStore) Submit(_ context.Context, id uuid.UUID, answers model.AnswerMap, startedAt, submittedAt time.Time) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	sub, ok := s.subs[id]
	if !ok || !(sub.Status == model.SubmissionStatusInProgress || sub.Status == model.SubmissionStatusSubmitted) {
		return nil, repository.ErrSubmissionLocked
	}
	s.submits = append(s.submits, submitCall{id: id, answers: answers, startedAt: startedAt, submittedAt: submittedAt})
	sub.Status = model.SubmissionStatusSubmitted
	sub.Answers = answers
	sub.SubmittedAt = &submittedAt
	cp := *sub
	return &cp, nil
}

func intPtr(n int) *int { return &n }

func raw(v string) json.RawMessage { return json.RawMessage(v) }

// newPhysicsTest has one question of each auto-gradable shape plus an essay.
func newPhysicsTest() *model.Test {
	id := uuid.New()
	q := func(typ model.QuestionType, points float64, canon string) model.Question {
		return model.Question{ID: uuid.New(), TestID: id, Type: typ, Points: points, CanonicalAnswer: raw(canon)}
	}
	questions := []model.Question{
		q(model.QuestionTypeMultipleChoice, 2, `"B"`),
		q(model.QuestionTypeNumeric, 3, `9.81`),
		q(model.QuestionTypeMatching, 2, `[{"left":"H2O","right":"water"},{"left":"NaCl","right":"salt"}]`),
		q(model.QuestionTypeEssay, 5, `null`),
	}
	questions[2].MatchPairs = []model.MatchPair{{Left: "H2O", Right: "water"}, {Left: "NaCl", Right: "salt"}}
	for i := range questions {
		questions[i].OrderNum = i + 1
	}
	return &model.Test{
		ID:               id,
		CourseID:         uuid.New(),
		Title:            "Kinematics quiz",
		Questions:        questions,
		TotalPoints:      12,
		TimeLimitMinutes: intPtr(60),
		DueDate:          t0.Add(30 * time.Minute),
		IsActive:         true,
	}
}
