package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer       Action = "answer"
	ActionClear        Action = "clear"
	ActionClearFiles   Action = "clear_files"
	ActionSave         Action = "save"
	ActionSubmit       Action = "submit"
	ActionConnectivity Action = "connectivity"
	ActionVisibility   Action = "visibility"
	ActionNavigate     Action = "navigate"
	ActionRetry        Action = "retry"
	ActionProgress     Action = "progress"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest sets one answer. A JSON null answer clears it.
type AnswerRequest struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id" binding:"required,uuid"`
	Answer     json.RawMessage `json:"answer"`
}

// ClearRequest clears one answer, or deletes its files for clear_files.
type ClearRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id" binding:"required,uuid"`
}

// ConnectivityRequest reports the client's network status.
type ConnectivityRequest struct {
	Action Action `json:"action"`
	Online *bool  `json:"online" binding:"required"`
}

// NavigateRequest moves to an absolute index or one step in a direction.
// Index wins when both are set.
type NavigateRequest struct {
	Action    Action `json:"action"`
	Index     *int   `json:"index" binding:"omitempty,min=0"`
	Direction string `json:"direction" binding:"omitempty,oneof=next prev"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState        Event = "state"
	EventLoaded       Event = "loaded"
	EventTick         Event = "tick"
	EventSaving       Event = "saving"
	EventAlert        Event = "alert"
	EventProgress     Event = "progress"
	EventConnectivity Event = "connectivity"
	EventNavigate     Event = "navigate"
	EventQuestion     Event = "question"
	EventSaved        Event = "saved"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// StateResponse announces a lifecycle transition.
type StateResponse struct {
	Event          Event  `json:"event"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`
	ContactSupport bool   `json:"contact_support,omitempty"`
}

// LoadedResponse carries everything the taking screen renders after a
// successful load or retry.
type LoadedResponse struct {
	Event            Event  `json:"event"`
	Paper            any    `json:"paper"`
	Course           any    `json:"course,omitempty"`
	Answers          any    `json:"answers"`
	Index            int    `json:"index"`
	RemainingSeconds *int   `json:"remaining_seconds,omitempty"`
	TimerMode        string `json:"timer_mode,omitempty"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

type SavingResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type AlertResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

type ProgressResponse struct {
	Event      Event    `json:"event"`
	Answered   int      `json:"answered"`
	Total      int      `json:"total"`
	Unanswered []string `json:"unanswered,omitempty"`
}

type ConnectivityResponse struct {
	Event  Event `json:"event"`
	Online bool  `json:"online"`
}

// NavigateResponse tells the client to leave the test screen.
type NavigateResponse struct {
	Event Event  `json:"event"`
	Path  string `json:"path"`
}

// QuestionResponse carries the question under the cursor.
type QuestionResponse struct {
	Event    Event `json:"event"`
	Index    int   `json:"index"`
	Question any   `json:"question"`
}

type SavedResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
