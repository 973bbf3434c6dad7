package service

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
)

// StudentStore is the persistence behind StudentService.
type StudentStore interface {
	GetByID(ctx context.Context, id int) (*model.Student, error)
	GetByNISN(ctx context.Context, nisn string) (*model.Student, error)
	Create(ctx context.Context, s *model.Student) error
	UpdatePassword(ctx context.Context, id int, passwordHash string) error
	ListActiveTests(ctx context.Context, studentID int) ([]model.ActiveTest, error)
}

// StudentService handles student accounts.
type StudentService struct {
	store StudentStore
	auth  *AuthService
}

// NewStudentService creates a new StudentService.
func NewStudentService(store StudentStore, auth *AuthService) *StudentService {
	return &StudentService{store: store, auth: auth}
}

func (s *StudentService) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	return s.store.GetByNISN(ctx, nisn)
}

// Authenticate checks a NISN and password pair. Unknown NISNs and wrong
// passwords both yield ErrInvalidCredentials.
func (s *StudentService) Authenticate(ctx context.Context, nisn, password string) (*model.Student, error) {
	student, err := s.store.GetByNISN(ctx, nisn)
	if errors.Is(err, repository.ErrStudentNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.auth.CheckPassword(student.PasswordHash, password); err != nil {
		return nil, err
	}
	return student, nil
}

// Profile returns the student with their resumable attempts.
func (s *StudentService) Profile(ctx context.Context, student *model.Student) (*model.StudentProfile, error) {
	active, err := s.store.ListActiveTests(ctx, student.ID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = []model.ActiveTest{}
	}
	return &model.StudentProfile{Student: *student, ActiveTests: active}, nil
}

// ProfileByID loads the student and their resumable attempts.
func (s *StudentService) ProfileByID(ctx context.Context, id int) (*model.StudentProfile, error) {
	student, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, student)
}

// Create inserts a new student. PasswordHash carries the plaintext password
// on input and is replaced by its bcrypt hash.
func (s *StudentService) Create(ctx context.Context, student *model.Student) error {
	hashed, err := s.auth.HashPassword(student.PasswordHash)
	if err != nil {
		return err
	}
	student.PasswordHash = hashed
	return s.store.Create(ctx, student)
}

// ChangePassword replaces a student's password.
func (s *StudentService) ChangePassword(ctx context.Context, id int, password string) error {
	hashed, err := s.auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, id, hashed)
}
