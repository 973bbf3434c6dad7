package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Review is the post-submission view of a test attempt.
type Review struct {
	SubmissionID uuid.UUID        `json:"submission_id"`
	TestID       uuid.UUID        `json:"test_id"`
	Title        string           `json:"title"`
	Status       SubmissionStatus `json:"status"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty"`
	Score        float64          `json:"score"`
	MaxScore     float64          `json:"max_score"`
	Grade        *string          `json:"grade,omitempty"`
	// PendingManual counts questions that need a teacher to grade them.
	PendingManual int          `json:"pending_manual"`
	Items         []ReviewItem `json:"items"`
}

// ReviewItem is one question in a review.
type ReviewItem struct {
	QuestionID      uuid.UUID       `json:"question_id"`
	Type            QuestionType    `json:"question_type"`
	QuestionText    string          `json:"question_text"`
	Points          float64         `json:"points"`
	Answer          Answer          `json:"answer"`
	CanonicalAnswer json.RawMessage `json:"canonical_answer,omitempty"`
	// Awarded and Correct are nil for questions that are graded manually.
	Awarded *float64 `json:"awarded,omitempty"`
	Correct *bool    `json:"correct,omitempty"`
}
