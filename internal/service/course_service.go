package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lms/internal/model"
)

// CourseStore is the persistence the CourseService reads from.
type CourseStore interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Course, error)
}

// CourseService resolves course display data.
type CourseService struct {
	store CourseStore
}

// NewCourseService creates a new CourseService.
func NewCourseService(store CourseStore) *CourseService {
	return &CourseService{store: store}
}

// FetchCoursesByIDs returns the known courses among ids.
func (s *CourseService) FetchCoursesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Course, error) {
	if len(ids) == 0 {
		return []model.Course{}, nil
	}
	return s.store.ListByIDs(ctx, ids)
}
