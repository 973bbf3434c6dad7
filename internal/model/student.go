package model

import (
	"time"

	"github.com/google/uuid"
)

// Student is a test taker. Students sign in with their NISN.
type Student struct {
	ID           int       `json:"id"`
	NISN         string    `json:"nisn"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=4,max=20"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// ActiveTest is an open attempt the student can resume.
type ActiveTest struct {
	TestID           uuid.UUID  `json:"test_id"`
	Title            string     `json:"title"`
	CourseCode       string     `json:"course_code"`
	CourseName       string     `json:"course_name"`
	TimeLimitMinutes *int       `json:"time_limit_minutes,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
}

// StudentProfile is the signed-in student with their open attempts.
type StudentProfile struct {
	Student     Student      `json:"student"`
	ActiveTests []ActiveTest `json:"active_tests"`
}

// StudentLoginResponse carries the session token and the profile.
type StudentLoginResponse struct {
	Token string `json:"token"`
	StudentProfile
}
