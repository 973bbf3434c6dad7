package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates submission states.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "IN_PROGRESS"
	SubmissionStatusSubmitted  SubmissionStatus = "SUBMITTED"
	SubmissionStatusLate       SubmissionStatus = "LATE"
	SubmissionStatusGraded     SubmissionStatus = "GRADED"
)

// Terminal reports whether a session may no longer be taken.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionStatusSubmitted || s == SubmissionStatusGraded
}

// Submission is a student's attempt at a test. The initial IN_PROGRESS row is
// created by the pre-test flow, never by the session engine.
type Submission struct {
	ID          uuid.UUID        `json:"id"`
	StudentID   int              `json:"student_id"`
	TestID      uuid.UUID        `json:"test_id"`
	Status      SubmissionStatus `json:"status"`
	Answers     AnswerMap        `json:"answers"`
	StartedAt   time.Time        `json:"started_at"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
	Score       *float64         `json:"score,omitempty"`
	Grade       *string          `json:"grade,omitempty"`
}

// SubmissionUpdate is the partial submission sent on autosave and submit.
// Answers always carries the full snapshot.
type SubmissionUpdate struct {
	StudentID   int               `json:"student_id"`
	TestID      uuid.UUID         `json:"test_id"`
	Status      *SubmissionStatus `json:"status,omitempty"`
	Answers     AnswerMap         `json:"answers"`
	StartedAt   time.Time         `json:"started_at"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
}

// SessionState is returned to a reloading client: the buffered answers and the
// recomputed remaining time.
type SessionState struct {
	SubmissionID     uuid.UUID        `json:"submission_id"`
	TestID           uuid.UUID        `json:"test_id"`
	StudentID        int              `json:"student_id"`
	Status           SubmissionStatus `json:"status"`
	Answers          AnswerMap        `json:"answers"`
	RemainingSeconds *int             `json:"remaining_seconds,omitempty"`
}
