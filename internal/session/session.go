// Package session runs a student's in-progress test: loading, countdown,
// answer editing with debounced autosave, and submission.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/model"
)

const closeFlushTimeout = 5 * time.Second

// Options tunes a Session.
type Options struct {
	AutosaveDebounce time.Duration
	LoadTimeout      time.Duration
	TimerMode        DriverMode
	TickInterval     time.Duration
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		AutosaveDebounce: 5 * time.Second,
		LoadTimeout:      30 * time.Second,
		TimerMode:        ModeWorker,
		TickInterval:     time.Second,
	}
}

// Deps are the collaborators of a Session. Courses, Listener, Clock and
// Spawner are optional.
type Deps struct {
	Tests       TestService
	Submissions SubmissionService
	Files       FileStorage
	Courses     CourseService
	Navigator   Navigator
	Listener    Listener
	Clock       clockwork.Clock
	Spawner     Spawner
	Log         zerolog.Logger
}

// Session is one student's attempt at one test.
type Session struct {
	studentID int
	testID    uuid.UUID
	deps      Deps
	opts      Options
	clock     clockwork.Clock
	log       zerolog.Logger

	store    *AnswerStore
	autosave *Autosaver

	mu            sync.Mutex
	state         State
	failure       *Failure
	gen           uint64
	closed        bool
	test          *model.Test
	course        *model.Course
	submission    *model.Submission
	deadline      Deadline
	remaining     int
	cursor        int
	online        bool
	inFlight      bool
	autoSubmitted bool
	expiryPending bool
	driver        Driver
	watchdog      clockwork.Timer
	dueTimer      clockwork.Timer
	cancelLoad    context.CancelFunc
	pending       []func()

	// emitMu keeps listener callbacks in the order they were queued.
	emitMu sync.Mutex
	// persistMu serialises writes of the answers document.
	persistMu sync.Mutex
}

// New creates a session in the loading state. Call Load to start it.
func New(studentID int, testID uuid.UUID, deps Deps, opts Options) *Session {
	def := DefaultOptions()
	if opts.AutosaveDebounce <= 0 {
		opts.AutosaveDebounce = def.AutosaveDebounce
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = def.LoadTimeout
	}
	if opts.TimerMode == "" {
		opts.TimerMode = def.TimerMode
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	s := &Session{
		studentID: studentID,
		testID:    testID,
		deps:      deps,
		opts:      opts,
		clock:     deps.Clock,
		log: deps.Log.With().
			Int("student_id", studentID).
			Str("test_id", testID.String()).
			Logger(),
		store:  NewAnswerStore(nil),
		state:  StateLoading,
		online: true,
	}
	s.autosave = NewAutosaver(s.clock, opts.AutosaveDebounce, s.persistAnswers, s.onSaveStatus, s.log)
	s.store.OnChange(s.onAnswersChanged)
	return s
}

// StudentID returns the owner of the session.
func (s *Session) StudentID() int { return s.studentID }

// TestID returns the test being taken.
func (s *Session) TestID() uuid.UUID { return s.testID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure returns why the session is in error, timeout or expired.
func (s *Session) Failure() *Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Test returns the loaded test, nil before a successful load.
func (s *Session) Test() *model.Test {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.test
}

// Course returns the course of the test when it could be resolved.
func (s *Session) Course() *model.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.course
}

// Remaining returns the last computed remaining seconds. ok is false for
// tests without a time limit.
func (s *Session) Remaining() (seconds int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining, s.deadline.HasLimit()
}

// TimerMode reports which mechanism currently drives the countdown.
func (s *Session) TimerMode() (DriverMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return "", false
	}
	return s.driver.Mode(), true
}

// ─── Answers ──────────────────────────────────────────────────────────

// SetAnswer validates a against the question's type and stores it.
func (s *Session) SetAnswer(qid string, a model.Answer) error {
	q, err := s.editableQuestion(qid)
	if err != nil {
		return err
	}
	if err := model.ValidateAnswer(q, a); err != nil {
		return err
	}
	if err := checkNotFiles(q, a); err != nil {
		return err
	}
	s.store.Set(qid, a)
	return nil
}

// SetRawAnswer decodes raw using the question's type and stores it. JSON
// null clears the answer.
func (s *Session) SetRawAnswer(qid string, raw json.RawMessage) error {
	q, err := s.editableQuestion(qid)
	if err != nil {
		return err
	}
	a, err := model.DecodeAnswer(q, raw)
	if err != nil {
		return err
	}
	if err := checkNotFiles(q, a); err != nil {
		return err
	}
	s.store.Set(qid, a)
	return nil
}

// checkNotFiles keeps file answers out of the direct setters. Stored file
// URLs are later deleted by ClearFileAnswer, so they must come from uploads.
func checkNotFiles(q *model.Question, a model.Answer) error {
	if q.Type == model.QuestionTypeFileUpload || (a != nil && a.Kind() == model.AnswerKindFiles) {
		return fmt.Errorf("%w: %s", ErrFilesViaUpload, q.ID)
	}
	return nil
}

// ClearAnswer removes the answer for qid.
func (s *Session) ClearAnswer(qid string) error {
	if _, err := s.editableQuestion(qid); err != nil {
		return err
	}
	s.store.Clear(qid)
	return nil
}

// ClearFileAnswer deletes the uploaded files of qid and clears the answer.
// Per-file failures are alerted once and returned; the answer is cleared regardless.
func (s *Session) ClearFileAnswer(ctx context.Context, qid string) error {
	if _, err := s.editableQuestion(qid); err != nil {
		return err
	}

	err := s.store.ClearFiles(ctx, qid, s.deps.Files)
	if err != nil {
		s.log.Warn().Err(err).Str("question_id", qid).Msg("Some files could not be deleted")
		s.alert(fmt.Sprintf("Some files could not be deleted:\n%v", err))
	}
	return err
}

// AttachFiles uploads files for a file-upload question and appends them to
// its answer. Files that fail are alerted once and returned.
func (s *Session) AttachFiles(ctx context.Context, qid string, uploads []model.FileUpload) error {
	q, err := s.editableQuestion(qid)
	if err != nil {
		return err
	}
	if q.Type != model.QuestionTypeFileUpload {
		return fmt.Errorf("%w: %s", ErrNotFileQuestion, qid)
	}

	added, err := uploadFiles(ctx, uploads, s.deps.Files)
	if len(added) > 0 {
		// Uploads can outlast a submit; merge only while still editable.
		s.mu.Lock()
		editable := s.state == StateSuccess && !s.closed
		if editable {
			s.store.appendFiles(qid, added)
		}
		s.mu.Unlock()

		if !editable {
			if derr := errors.Join(deleteFiles(ctx, added, s.deps.Files)...); derr != nil {
				s.log.Warn().Err(derr).Str("question_id", qid).Msg("Failed to remove late uploads")
			}
			return errors.Join(ErrNotEditable, err)
		}
		s.store.notify()
	}

	if err != nil {
		s.log.Warn().Err(err).Str("question_id", qid).Msg("Some files could not be uploaded")
		s.alert(fmt.Sprintf("Some files could not be uploaded:\n%v", err))
	}
	return err
}

// Answer returns the stored answer of qid.
func (s *Session) Answer(qid string) (model.Answer, bool) {
	return s.store.Get(qid)
}

// Answers returns a snapshot of the answer map.
func (s *Session) Answers() model.AnswerMap {
	return s.store.Snapshot()
}

// AnsweredCount counts answered questions.
func (s *Session) AnsweredCount() int {
	return s.store.AnsweredCount()
}

// Progress lists answered and unanswered questions in test order.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	test := s.test
	s.mu.Unlock()

	p := Progress{Unanswered: []string{}}
	if test == nil {
		return p
	}
	p.Total = len(test.Questions)
	for i := range test.Questions {
		qid := test.Questions[i].ID.String()
		if a, _ := s.store.Get(qid); model.IsAnswered(a) {
			p.Answered++
		} else {
			p.Unanswered = append(p.Unanswered, qid)
		}
	}
	return p
}

// SaveNow persists the answers immediately, bypassing the debounce window.
func (s *Session) SaveNow(ctx context.Context) error {
	if s.State() != StateSuccess {
		return ErrNotEditable
	}
	return s.autosave.SaveNow(ctx)
}

func (s *Session) editableQuestion(qid string) (*model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSuccess {
		return nil, ErrNotEditable
	}
	q, ok := s.test.Question(qid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, qid)
	}
	return q, nil
}

func (s *Session) onAnswersChanged() {
	s.autosave.Schedule()

	s.mu.Lock()
	if s.test != nil {
		s.emitLocked(Event{
			Type:     EventProgress,
			Answered: s.store.AnsweredCount(),
			Total:    len(s.test.Questions),
		})
	}
	s.unlockAndFlush()
}

func (s *Session) onSaveStatus(st SaveStatus) {
	s.mu.Lock()
	s.emitLocked(Event{Type: EventSaving, Saving: st})
	s.unlockAndFlush()
}

// persistAnswers writes the full answer snapshot. The snapshot is taken
// after persistMu is held so serial writes never go back in time.
func (s *Session) persistAnswers(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	sub := s.submission
	s.mu.Unlock()
	if sub == nil {
		return nil
	}

	_, err := s.deps.Submissions.UpdateSubmission(ctx, sub.ID, &model.SubmissionUpdate{
		StudentID: s.studentID,
		TestID:    s.testID,
		Answers:   s.store.Snapshot(),
		StartedAt: sub.StartedAt,
	})
	return err
}

// ─── Question navigation ──────────────────────────────────────────────

// Cursor returns the index of the current question.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Goto moves to question i and returns it.
func (s *Session) Goto(i int) (model.QuestionForStudent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.test == nil {
		return model.QuestionForStudent{}, ErrNotEditable
	}
	if i < 0 || i >= len(s.test.Questions) {
		return model.QuestionForStudent{}, fmt.Errorf("%w: index %d", ErrUnknownQuestion, i)
	}
	s.cursor = i
	return s.test.Questions[i].ForStudent(), nil
}

// Next moves to the following question, staying on the last one.
func (s *Session) Next() (model.QuestionForStudent, error) {
	return s.Goto(min(s.Cursor()+1, s.questionCount()-1))
}

// Prev moves to the preceding question, staying on the first one.
func (s *Session) Prev() (model.QuestionForStudent, error) {
	return s.Goto(max(s.Cursor()-1, 0))
}

func (s *Session) questionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.test == nil {
		return 0
	}
	return len(s.test.Questions)
}

// ─── Environment signals ──────────────────────────────────────────────

// SetOnline records connectivity. Going back online fires an auto-submit
// that was blocked while offline.
func (s *Session) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	retry := online && s.expiryPending && s.state == StateSuccess
	if changed {
		s.emitLocked(Event{Type: EventConnectivity, Online: online})
	}
	s.unlockAndFlush()

	if retry {
		s.autoSubmit()
	}
}

// Online reports the last known connectivity.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// VisibilityRestored recomputes the countdown after the client was hidden.
func (s *Session) VisibilityRestored() {
	s.mu.Lock()
	d := s.driver
	s.mu.Unlock()

	if r, ok := d.(Resyncer); ok {
		r.Resync()
	}
}

// Close tears the session down: pending answers are flushed, then every
// timer and the countdown are released. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	flush := s.state == StateSuccess
	s.mu.Unlock()

	if flush {
		ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
		if err := s.autosave.Flush(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Final autosave on close failed")
		}
		cancel()
	}

	s.mu.Lock()
	s.closed = true
	s.gen++
	s.teardownLocked()
	s.mu.Unlock()
	s.autosave.Pause()
}

// Replace closes a session taken over by another connection and tells its
// listener, so the old window can leave the taking screen.
func (s *Session) Replace() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.Close()

	s.mu.Lock()
	s.state = StateReplaced
	s.failure = &Failure{State: StateReplaced, Reason: ErrReplaced}
	s.emitLocked(Event{Type: EventState, State: StateReplaced, Failure: s.failure})
	s.log.Info().Msg("Session replaced by another connection")
	s.unlockAndFlush()
}

// ─── Event plumbing ───────────────────────────────────────────────────

// after queues fn to run once mu is released. Callers must hold mu.
func (s *Session) after(fn func()) {
	s.pending = append(s.pending, fn)
}

func (s *Session) emitLocked(ev Event) {
	if s.deps.Listener == nil {
		return
	}
	l := s.deps.Listener
	s.after(func() { l.OnEvent(ev) })
}

func (s *Session) navigateLocked(path string) {
	if s.deps.Navigator == nil {
		return
	}
	nav := s.deps.Navigator
	s.after(func() { nav.Navigate(path) })
}

func (s *Session) alert(msg string) {
	s.mu.Lock()
	s.emitLocked(Event{Type: EventAlert, Message: msg})
	s.unlockAndFlush()
}

// unlockAndFlush releases mu and runs the queued callbacks in order.
func (s *Session) unlockAndFlush() {
	pending := s.pending
	s.pending = nil
	if len(pending) == 0 {
		s.mu.Unlock()
		return
	}

	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	for _, fn := range pending {
		fn()
	}
}
