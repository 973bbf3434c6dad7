package session

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State string

const (
	StateLoading    State = "loading"
	StateSuccess    State = "success"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateError      State = "error"
	StateTimeout    State = "timeout"
	StateExpired    State = "expired"
	StateReplaced   State = "replaced"
)

// EventType discriminates Event.
type EventType string

const (
	EventState        EventType = "state"
	EventTick         EventType = "tick"
	EventSaving       EventType = "saving"
	EventAlert        EventType = "alert"
	EventProgress     EventType = "progress"
	EventConnectivity EventType = "connectivity"
)

// Event is emitted to the presentation layer.
type Event struct {
	Type      EventType
	State     State
	Failure   *Failure
	Remaining int
	Saving    SaveStatus
	Message   string
	Answered  int
	Total     int
	Online    bool
}

// Progress summarises answered questions for the submit confirmation.
type Progress struct {
	Answered   int      `json:"answered"`
	Total      int      `json:"total"`
	Unanswered []string `json:"unanswered"`
}

// ReviewPath is where a student lands after submitting.
func ReviewPath(testID uuid.UUID) string {
	return fmt.Sprintf("/tests/%s/review", testID)
}

// ExpiredPath is where a student is routed when the test can no longer be taken.
func ExpiredPath(testID uuid.UUID) string {
	return fmt.Sprintf("/tests/%s/expired", testID)
}
