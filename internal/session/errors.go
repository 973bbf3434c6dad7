package session

import (
	"errors"
	"fmt"
)

var (
	ErrLoadFailed       = errors.New("failed to load test")
	ErrLoadTimeout      = errors.New("loading the test timed out")
	ErrTestPastDue      = errors.New("test due date has passed")
	ErrTestInactive     = errors.New("test is not active")
	ErrNoSubmission     = errors.New("no submission exists for this test")
	ErrAlreadySubmitted = errors.New("test has already been submitted")
	ErrSubmissionLate   = errors.New("submission window closed")
	ErrSubmitFailed     = errors.New("failed to submit test")

	ErrOffline         = errors.New("no internet connection")
	ErrNotEditable     = errors.New("session is not accepting changes")
	ErrSubmitInFlight  = errors.New("submission already in progress")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrNotFileQuestion = errors.New("question does not accept files")
	ErrFilesViaUpload  = errors.New("file answers can only be set by uploading")
	ErrNotRetryable    = errors.New("session cannot be retried")
	ErrReplaced        = errors.New("test was opened in another window")
)

// Failure describes why a session left the loading or taking states.
type Failure struct {
	State  State
	Reason error
	// Retryable failures offer a retry action; the others route the student away.
	Retryable bool
	// ContactSupport is set for load timeouts.
	ContactSupport bool
}

func (f *Failure) Error() string { return f.Reason.Error() }

func (f *Failure) Unwrap() error { return f.Reason }

// FileError is the failure of one file in an upload or delete batch.
type FileError struct {
	Op       string
	FileName string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.FileName, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
