package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const (
	waitFor   = 2 * time.Second
	pollEvery = 5 * time.Millisecond
)

var errBoom = errors.New("boom")

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// ─── Collaborator fakes ───────────────────────────────────────────────

type fakeTests struct {
	test  *model.Test
	err   error
	block bool
	calls int
	mu    sync.Mutex
}

func (f *fakeTests) FetchTestByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	f.mu.Lock()
	f.calls++
	test, err, block := f.test, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return test, nil
}

func (f *fakeTests) set(test *model.Test, err error) {
	f.mu.Lock()
	f.test, f.err, f.block = test, err, false
	f.mu.Unlock()
}

type fakeSubmissions struct {
	mu       sync.Mutex
	sub      *model.Submission
	fetchErr error
	// failUpdates makes the next n updates fail.
	failUpdates int
	// gate, when set, blocks every update until it is closed.
	gate    chan struct{}
	updates []model.SubmissionUpdate
}

func (f *fakeSubmissions) FetchSubmission(_ context.Context, studentID int, testID uuid.UUID) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.sub == nil {
		return nil, nil
	}
	cp := *f.sub
	cp.Answers = f.sub.Answers.Clone()
	return &cp, nil
}

func (f *fakeSubmissions) UpdateSubmission(_ context.Context, id uuid.UUID, upd *model.SubmissionUpdate) (*model.Submission, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rec := *upd
	rec.Answers = upd.Answers.Clone()
	f.updates = append(f.updates, rec)

	if f.failUpdates > 0 {
		f.failUpdates--
		return nil, errBoom
	}

	f.sub.Answers = upd.Answers.Clone()
	if upd.Status != nil {
		f.sub.Status = *upd.Status
		f.sub.SubmittedAt = upd.SubmittedAt
	}
	cp := *f.sub
	cp.Answers = f.sub.Answers.Clone()
	return &cp, nil
}

func (f *fakeSubmissions) recorded() []model.SubmissionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmissionUpdate(nil), f.updates...)
}

func (f *fakeSubmissions) submitted() []model.SubmissionUpdate {
	var out []model.SubmissionUpdate
	for _, u := range f.recorded() {
		if u.Status != nil && *u.Status == model.SubmissionStatusSubmitted {
			out = append(out, u)
		}
	}
	return out
}

type fakeFiles struct {
	mu      sync.Mutex
	deleted []string
	failOn  map[string]bool
	// gate, when set, blocks every upload until it is closed.
	gate    chan struct{}
	started int
}

func (f *fakeFiles) Upload(_ context.Context, u *model.FileUpload) (string, error) {
	f.mu.Lock()
	f.started++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if f.failOn[u.Name] {
		return "", errBoom
	}
	return "/uploads/answers/" + u.Name, nil
}

func (f *fakeFiles) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, url)
	f.mu.Unlock()
	if f.failOn[url] {
		return errBoom
	}
	return nil
}

func (f *fakeFiles) uploadsStarted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeFiles) deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeCourses struct{}

func (fakeCourses) FetchCoursesByIDs(_ context.Context, ids []uuid.UUID) ([]model.Course, error) {
	out := make([]model.Course, len(ids))
	for i, id := range ids {
		out[i] = model.Course{ID: id, Code: "PHY-101", Name: "Physics"}
	}
	return out, nil
}

// recorder collects events and navigations.
type recorder struct {
	mu     sync.Mutex
	events []Event
	paths  []string
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, ev := range r.events {
		if ev.Type == EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == EventAlert {
			out = append(out, ev.Message)
		}
	}
	return out
}

func (r *recorder) navigations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// ─── Fixtures ─────────────────────────────────────────────────────────

func intPtr(n int) *int { return &n }

func newTestFixture(limit *int, due time.Time) *model.Test {
	testID := uuid.New()
	return &model.Test{
		ID:       testID,
		CourseID: uuid.New(),
		Title:    "Kinematics Quiz",
		Questions: []model.Question{
			{ID: uuid.New(), TestID: testID, Type: model.QuestionTypeShortAnswer, QuestionText: "Define velocity", Points: 2},
			{ID: uuid.New(), TestID: testID, Type: model.QuestionTypeMultiSelect, QuestionText: "Pick vectors", Points: 2, Options: []string{"speed", "velocity", "force"}},
			{ID: uuid.New(), TestID: testID, Type: model.QuestionTypeFileUpload, QuestionText: "Upload your lab report", Points: 5},
			{ID: uuid.New(), TestID: testID, Type: model.QuestionTypeNumeric, QuestionText: "g in m/s^2", Points: 1},
		},
		TotalPoints:      10,
		TimeLimitMinutes: limit,
		DueDate:          due,
		IsActive:         true,
	}
}

type harness struct {
	t     *testing.T
	clock fakeClock
	test  *model.Test
	tests *fakeTests
	subs  *fakeSubmissions
	files *fakeFiles
	rec   *recorder
	sess  *Session
	spawn Spawner
	mode  DriverMode
}

func newHarness(t *testing.T, test *model.Test, startedAt time.Time) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)

	h := &harness{
		t:     t,
		clock: clock,
		test:  test,
		tests: &fakeTests{test: test},
		subs: &fakeSubmissions{sub: &model.Submission{
			ID:        uuid.New(),
			StudentID: 42,
			TestID:    test.ID,
			Status:    model.SubmissionStatusInProgress,
			Answers:   model.AnswerMap{},
			StartedAt: startedAt,
		}},
		files: &fakeFiles{failOn: map[string]bool{}},
		rec:   &recorder{},
		mode:  ModePolling,
	}
	return h
}

func (h *harness) build() *Session {
	h.sess = New(42, h.test.ID, Deps{
		Tests:       h.tests,
		Submissions: h.subs,
		Files:       h.files,
		Courses:     fakeCourses{},
		Navigator:   h.rec,
		Listener:    h.rec,
		Clock:       h.clock,
		Spawner:     h.spawn,
		Log:         zerolog.Nop(),
	}, Options{TimerMode: h.mode})
	h.t.Cleanup(h.sess.Close)
	return h.sess
}

func (h *harness) load() *Session {
	h.t.Helper()
	s := h.build()
	require.NoError(h.t, s.Load(context.Background()))
	require.Equal(h.t, StateSuccess, s.State())
	return s
}

func (h *harness) qid(i int) string {
	return h.test.Questions[i].ID.String()
}

// advanceUntil moves the fake clock by step until cond holds.
func (h *harness) advanceUntil(step time.Duration, cond func() bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		if cond() {
			return true
		}
		h.clock.Advance(step)
		return cond()
	}, waitFor, pollEvery)
}
