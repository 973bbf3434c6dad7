package model

import (
	"time"

	"github.com/google/uuid"
)

// Test is an assessment as read by the session engine. It is immutable for
// the duration of a session.
type Test struct {
	ID          uuid.UUID  `json:"id"`
	CourseID    uuid.UUID  `json:"course_id"`
	Title       string     `json:"title"`
	Questions   []Question `json:"questions"`
	TotalPoints float64    `json:"total_points"`
	// TimeLimitMinutes is nil for open-ended tests that only close at DueDate.
	TimeLimitMinutes *int      `json:"time_limit_minutes,omitempty"`
	DueDate          time.Time `json:"due_date"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TimeLimit returns the time limit in minutes, or 0 when there is none.
func (t *Test) TimeLimit() int {
	if t.TimeLimitMinutes == nil || *t.TimeLimitMinutes < 0 {
		return 0
	}
	return *t.TimeLimitMinutes
}

// Question looks up a question by its ID string.
func (t *Test) Question(id string) (*Question, bool) {
	for i := range t.Questions {
		if t.Questions[i].ID.String() == id {
			return &t.Questions[i], true
		}
	}
	return nil, false
}

// TestPaper is the cached student-facing payload (no canonical answers).
type TestPaper struct {
	TestID           uuid.UUID            `json:"test_id"`
	CourseID         uuid.UUID            `json:"course_id"`
	Title            string               `json:"title"`
	TotalPoints      float64              `json:"total_points"`
	TimeLimitMinutes *int                 `json:"time_limit_minutes,omitempty"`
	DueDate          time.Time            `json:"due_date"`
	Questions        []QuestionForStudent `json:"questions"`
}

// Paper builds the student-facing payload for t.
func (t *Test) Paper() *TestPaper {
	questions := make([]QuestionForStudent, len(t.Questions))
	for i := range t.Questions {
		questions[i] = t.Questions[i].ForStudent()
	}
	return &TestPaper{
		TestID:           t.ID,
		CourseID:         t.CourseID,
		Title:            t.Title,
		TotalPoints:      t.TotalPoints,
		TimeLimitMinutes: t.TimeLimitMinutes,
		DueDate:          t.DueDate,
		Questions:        questions,
	}
}
