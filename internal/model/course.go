package model

import "github.com/google/uuid"

// Course is only used for display context (course name on the test screen).
type Course struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}
