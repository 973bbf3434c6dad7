package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/session"
)

// ErrUnsupportedStatus is returned for status transitions the service does not perform.
var ErrUnsupportedStatus = errors.New("unsupported submission status change")

// SubmissionStore is the persistence the SubmissionService writes through.
type SubmissionStore interface {
	GetByStudentAndTest(ctx context.Context, studentID int, testID uuid.UUID) (*model.Submission, error)
	Submit(ctx context.Context, id uuid.UUID, answers model.AnswerMap, startedAt, submittedAt time.Time) (*model.Submission, error)
}

// SubmissionService reads submissions and routes answer writes: autosaves go
// through the Redis buffer, final submissions straight to PostgreSQL.
type SubmissionService struct {
	store  SubmissionStore
	buffer *AnswerBuffer
	tests  *TestService
	now    func() time.Time
	log    zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(store SubmissionStore, buffer *AnswerBuffer, tests *TestService, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		store:  store,
		buffer: buffer,
		tests:  tests,
		now:    time.Now,
		log:    log.With().Str("component", "submission_service").Logger(),
	}
}

// FetchSubmission returns the student's submission with any buffered answers
// applied, or (nil, nil) when none exists.
func (s *SubmissionService) FetchSubmission(ctx context.Context, studentID int, testID uuid.UUID) (*model.Submission, error) {
	sub, err := s.store.GetByStudentAndTest(ctx, studentID, testID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if sub.Status != model.SubmissionStatusInProgress {
		return sub, nil
	}

	buffered, ok, err := s.buffer.Get(ctx, sub.ID)
	if err != nil {
		// PostgreSQL may lag the buffer by one worker round; serve what it has.
		s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Buffered answers unavailable")
		return sub, nil
	}
	if ok {
		sub.Answers = buffered
	}
	return sub, nil
}

// UpdateSubmission stores upd. Without a status it is an autosave; with
// SUBMITTED it finalises the submission.
func (s *SubmissionService) UpdateSubmission(ctx context.Context, id uuid.UUID, upd *model.SubmissionUpdate) (*model.Submission, error) {
	answers := upd.Answers
	if answers == nil {
		answers = model.AnswerMap{}
	}

	if upd.Status == nil {
		if err := s.buffer.Put(ctx, id, answers); err != nil {
			return nil, err
		}
		return &model.Submission{
			ID:        id,
			StudentID: upd.StudentID,
			TestID:    upd.TestID,
			Status:    model.SubmissionStatusInProgress,
			Answers:   answers,
			StartedAt: upd.StartedAt,
		}, nil
	}

	if *upd.Status != model.SubmissionStatusSubmitted {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStatus, *upd.Status)
	}

	submittedAt := s.now()
	if upd.SubmittedAt != nil {
		submittedAt = *upd.SubmittedAt
	}

	sub, err := s.store.Submit(ctx, id, answers, upd.StartedAt, submittedAt)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	if err := s.buffer.Clear(ctx, id); err != nil {
		// The worker's conditional update ignores stale buffers of submitted rows.
		s.log.Warn().Err(err).Str("submission_id", id.String()).Msg("Failed to clear answer buffer")
	}

	s.log.Info().
		Str("submission_id", id.String()).
		Int("student_id", sub.StudentID).
		Msg("Submission finalised")
	return sub, nil
}

// GetState returns what a reloading client needs to resume: the latest
// answers and the recomputed remaining time.
func (s *SubmissionService) GetState(ctx context.Context, studentID int, testID uuid.UUID) (*model.SessionState, error) {
	t, err := s.tests.FetchTestByID(ctx, testID)
	if err != nil {
		return nil, err
	}

	sub, err := s.FetchSubmission(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, repository.ErrSubmissionNotFound
	}

	state := &model.SessionState{
		SubmissionID: sub.ID,
		TestID:       testID,
		StudentID:    studentID,
		Status:       sub.Status,
		Answers:      sub.Answers,
	}

	now := s.now()
	switch {
	case t.TimeLimit() > 0:
		remaining := session.ComputeRemaining(now, sub.StartedAt, t.TimeLimit(), t.DueDate)
		state.RemainingSeconds = &remaining
	case !t.DueDate.IsZero():
		// Open-ended tests only close at the due date.
		remaining := max(0, int(t.DueDate.Sub(now)/time.Second))
		state.RemainingSeconds = &remaining
	}
	return state, nil
}
