package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lms/internal/model"
)

// TestService reads tests. Implementations return an error for unknown IDs.
type TestService interface {
	FetchTestByID(ctx context.Context, id uuid.UUID) (*model.Test, error)
}

// SubmissionService reads and updates the single submission of a session.
type SubmissionService interface {
	// FetchSubmission returns (nil, nil) when the student has no submission yet.
	FetchSubmission(ctx context.Context, studentID int, testID uuid.UUID) (*model.Submission, error)
	// UpdateSubmission replaces the stored answers with upd.Answers.
	UpdateSubmission(ctx context.Context, id uuid.UUID, upd *model.SubmissionUpdate) (*model.Submission, error)
}

// FileStorage stores answer files.
type FileStorage interface {
	Upload(ctx context.Context, f *model.FileUpload) (string, error)
	Delete(ctx context.Context, url string) error
}

// CourseService resolves course display data.
type CourseService interface {
	FetchCoursesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Course, error)
}

// Navigator moves the student to another screen.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Listener receives session events. OnEvent must not call back into the
// Session synchronously.
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }
