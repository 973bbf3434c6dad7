package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lms/internal/model"
)

const (
	msgOffline      = "No internet connection. Your answers are kept; submit again once you are back online."
	msgSubmitFailed = "Failed to submit test. Please try again."
)

// Load fetches the test and the student's submission and enters the success
// state. It blocks until the load settles or the watchdog fires; the returned
// error is a *Failure for every terminal outcome.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotEditable
	}
	s.teardownLocked()
	s.gen++
	gen := s.gen

	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	s.state = StateLoading
	s.failure = nil
	s.watchdog = s.clock.AfterFunc(s.opts.LoadTimeout, func() { s.loadTimedOut(gen) })
	s.emitLocked(Event{Type: EventState, State: StateLoading})
	s.unlockAndFlush()

	s.fetch(loadCtx, gen)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	return nil
}

// Retry reloads a session that failed with a retryable error or timed out.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	retryable := (s.state == StateError || s.state == StateTimeout) &&
		s.failure != nil && s.failure.Retryable
	s.mu.Unlock()

	if !retryable {
		return ErrNotRetryable
	}
	return s.Load(ctx)
}

func (s *Session) fetch(ctx context.Context, gen uint64) {
	test, err := s.deps.Tests.FetchTestByID(ctx, s.testID)
	if err != nil {
		s.settle(gen, func() {
			s.failLocked(StateError, fmt.Errorf("%w: %v", ErrLoadFailed, err), true)
		})
		return
	}

	now := s.clock.Now()
	if !test.IsActive {
		s.settle(gen, func() { s.failLocked(StateExpired, ErrTestInactive, false) })
		return
	}
	if !test.DueDate.IsZero() && !now.Before(test.DueDate) {
		s.settle(gen, func() { s.failLocked(StateExpired, ErrTestPastDue, false) })
		return
	}

	sub, err := s.deps.Submissions.FetchSubmission(ctx, s.studentID, s.testID)
	if err != nil {
		s.settle(gen, func() {
			s.failLocked(StateError, fmt.Errorf("%w: %v", ErrLoadFailed, err), true)
		})
		return
	}

	switch {
	case sub == nil:
		s.settle(gen, func() { s.failLocked(StateExpired, ErrNoSubmission, false) })
		return
	case sub.Status.Terminal():
		s.settle(gen, func() { s.failLocked(StateError, ErrAlreadySubmitted, false) })
		return
	case sub.Status == model.SubmissionStatusLate:
		s.settle(gen, func() { s.failLocked(StateExpired, ErrSubmissionLate, false) })
		return
	}

	course := s.fetchCourse(ctx, test.CourseID)

	s.settle(gen, func() {
		s.test = test
		s.course = course
		s.submission = sub
		s.cursor = 0
		s.deadline = Deadline{
			Start:            sub.StartedAt,
			TimeLimitMinutes: test.TimeLimit(),
			Due:              test.DueDate,
		}
		s.store.Load(sub.Answers)
		s.inFlight = false
		s.autoSubmitted = false
		s.expiryPending = false

		s.state = StateSuccess
		s.emitLocked(Event{Type: EventState, State: StateSuccess})
		s.emitLocked(Event{
			Type:     EventProgress,
			Answered: s.store.AnsweredCount(),
			Total:    len(test.Questions),
		})
		s.autosave.Resume()
		s.startClockLocked(gen)

		s.log.Info().
			Str("submission_id", sub.ID.String()).
			Int("remaining", s.remaining).
			Msg("Session loaded")
	})
}

// fetchCourse is display-only; failures never block the session.
func (s *Session) fetchCourse(ctx context.Context, courseID uuid.UUID) *model.Course {
	if s.deps.Courses == nil || courseID == uuid.Nil {
		return nil
	}

	courses, err := s.deps.Courses.FetchCoursesByIDs(ctx, []uuid.UUID{courseID})
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to fetch course")
		return nil
	}
	for i := range courses {
		if courses[i].ID == courseID {
			return &courses[i]
		}
	}
	return nil
}

// settle applies a load result unless the load was superseded by the
// watchdog, a retry or Close.
func (s *Session) settle(gen uint64, apply func()) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateLoading {
		s.mu.Unlock()
		return
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	apply()
	s.unlockAndFlush()
}

func (s *Session) loadTimedOut(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateLoading {
		s.mu.Unlock()
		return
	}
	s.watchdog = nil
	if s.cancelLoad != nil {
		s.cancelLoad()
	}

	s.failLocked(StateTimeout, ErrLoadTimeout, true)
	s.failure.ContactSupport = true
	s.log.Warn().Dur("timeout", s.opts.LoadTimeout).Msg("Session load timed out")
	s.unlockAndFlush()
}

// failLocked moves the session into a failure state. Non-retryable failures
// route the student away from the taking screen.
func (s *Session) failLocked(state State, reason error, retryable bool) {
	s.state = state
	s.failure = &Failure{State: state, Reason: reason, Retryable: retryable}
	s.emitLocked(Event{Type: EventState, State: state, Failure: s.failure})

	if retryable {
		return
	}
	if errors.Is(reason, ErrAlreadySubmitted) {
		s.navigateLocked(ReviewPath(s.testID))
		return
	}
	s.navigateLocked(ExpiredPath(s.testID))
}

// ─── Countdown ────────────────────────────────────────────────────────

func (s *Session) startClockLocked(gen uint64) {
	now := s.clock.Now()

	if !s.deadline.HasLimit() {
		if s.deadline.Due.IsZero() {
			return
		}
		s.dueTimer = s.clock.AfterFunc(s.deadline.Due.Sub(now), func() { s.handleExpire(gen) })
		return
	}

	s.remaining = s.deadline.Remaining(now)
	s.driver = NewDriver(DriverOptions{
		Mode:     s.opts.TimerMode,
		Clock:    s.clock,
		Interval: s.opts.TickInterval,
		Spawner:  s.deps.Spawner,
		Log:      s.log,
	})
	err := s.driver.Start(s.deadline,
		func(remaining int) { s.handleTick(gen, remaining) },
		func() { s.handleExpire(gen) },
	)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to start countdown")
	}
}

func (s *Session) handleTick(gen uint64, remaining int) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateSuccess {
		s.mu.Unlock()
		return
	}
	s.remaining = remaining
	s.emitLocked(Event{Type: EventTick, Remaining: remaining})
	s.unlockAndFlush()
}

func (s *Session) handleExpire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.remaining = 0
	s.emitLocked(Event{Type: EventTick, Remaining: 0})
	s.unlockAndFlush()

	s.log.Info().Msg("Time expired, submitting automatically")
	s.autoSubmit()
}

// stopClockLocked releases the countdown and the due-date timer.
func (s *Session) stopClockLocked() {
	if s.driver != nil {
		s.driver.Stop()
	}
	if s.dueTimer != nil {
		s.dueTimer.Stop()
		s.dueTimer = nil
	}
}

// teardownLocked releases every timer and aborts an in-flight load.
func (s *Session) teardownLocked() {
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.stopClockLocked()
	s.driver = nil
}

// ─── Submit ───────────────────────────────────────────────────────────

// Submit sends the answers with status SUBMITTED. A second call while one is
// outstanding returns ErrSubmitInFlight without contacting the server.
func (s *Session) Submit(ctx context.Context) error {
	return s.submit(ctx, false)
}

func (s *Session) autoSubmit() {
	if err := s.submit(context.Background(), true); err != nil &&
		!errors.Is(err, ErrSubmitInFlight) && !errors.Is(err, ErrOffline) {
		s.log.Debug().Err(err).Msg("Auto submit skipped")
	}
}

func (s *Session) submit(ctx context.Context, auto bool) error {
	s.mu.Lock()

	// The latch is checked and set in the same critical section as the
	// in-flight flag, before any network call.
	if auto && s.autoSubmitted {
		s.mu.Unlock()
		return nil
	}
	if s.inFlight {
		if auto {
			s.expiryPending = true
		}
		s.mu.Unlock()
		return ErrSubmitInFlight
	}
	if s.state != StateSuccess {
		s.mu.Unlock()
		return ErrNotEditable
	}
	if !s.online {
		if auto {
			s.expiryPending = true
		}
		s.emitLocked(Event{Type: EventAlert, Message: msgOffline})
		s.unlockAndFlush()
		return ErrOffline
	}

	if auto {
		s.autoSubmitted = true
		s.expiryPending = false
	}
	s.inFlight = true
	s.state = StateSubmitting
	s.emitLocked(Event{Type: EventState, State: StateSubmitting})
	gen := s.gen
	sub := s.submission
	s.unlockAndFlush()

	s.autosave.Pause()

	s.persistMu.Lock()
	status := model.SubmissionStatusSubmitted
	submittedAt := s.clock.Now()
	updated, err := s.deps.Submissions.UpdateSubmission(ctx, sub.ID, &model.SubmissionUpdate{
		StudentID:   s.studentID,
		TestID:      s.testID,
		Status:      &status,
		Answers:     s.store.Snapshot(),
		StartedAt:   sub.StartedAt,
		SubmittedAt: &submittedAt,
	})
	s.persistMu.Unlock()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return err
	}

	if err == nil {
		if updated != nil {
			s.submission = updated
		}
		s.stopClockLocked()
		s.state = StateSubmitted
		s.emitLocked(Event{Type: EventState, State: StateSubmitted})
		s.navigateLocked(ReviewPath(s.testID))
		s.log.Info().Bool("auto", auto).Msg("Test submitted")
		s.unlockAndFlush()
		return nil
	}

	if auto {
		// The in-flight flag stays set: the student is routed away and the
		// taking screen must not come back at zero.
		s.log.Error().Err(err).Msg("Auto submit failed")
		s.stopClockLocked()
		s.failLocked(StateExpired, fmt.Errorf("%w: %v", ErrSubmitFailed, err), false)
		s.unlockAndFlush()
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	s.log.Warn().Err(err).Msg("Submit failed")
	s.inFlight = false
	s.state = StateSuccess
	s.emitLocked(Event{Type: EventState, State: StateSuccess})
	s.emitLocked(Event{Type: EventAlert, Message: msgSubmitFailed})
	retry := s.expiryPending && s.online
	s.unlockAndFlush()

	s.autosave.Resume()
	if retry {
		s.autoSubmit()
	}
	return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
}
