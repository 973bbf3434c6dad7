package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lms/internal/model"
)

var (
	ErrDuplicateNISN   = errors.New("student with this NISN already exists")
	ErrStudentNotFound = errors.New("student not found")
)

const studentColumns = `id, nisn, name, password_hash, created_at, updated_at`

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

func (r *StudentRepository) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return r.one(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
}

// GetByNISN retrieves a student by their unique NISN.
func (r *StudentRepository) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	return r.one(ctx, `SELECT `+studentColumns+` FROM students WHERE nisn = $1`, nisn)
}

func (r *StudentRepository) one(ctx context.Context, query string, arg any) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx, query, arg).
		Scan(&s.ID, &s.NISN, &s.Name, &s.PasswordHash, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	return s, nil
}

// Create inserts a new student.
func (r *StudentRepository) Create(ctx context.Context, s *model.Student) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO students (nisn, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		s.NISN, s.Name, s.PasswordHash,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateNISN
	}
	return err
}

// UpdatePassword replaces a student's password hash.
func (r *StudentRepository) UpdatePassword(ctx context.Context, id int, passwordHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE students SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// ListActiveTests returns the student's IN_PROGRESS attempts on active tests
// that are not past due, soonest due first.
func (r *StudentRepository) ListActiveTests(ctx context.Context, studentID int) ([]model.ActiveTest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.title, c.code, c.name, t.time_limit_minutes,
		        t.due_date, s.started_at
		 FROM submissions s
		 JOIN tests t ON t.id = s.test_id
		 JOIN courses c ON c.id = t.course_id
		 WHERE s.student_id = $1
		   AND s.status = $2
		   AND t.is_active
		   AND (t.due_date IS NULL OR t.due_date > NOW())
		 ORDER BY t.due_date ASC NULLS LAST, t.title`,
		studentID, model.SubmissionStatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("query active tests: %w", err)
	}

	tests, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ActiveTest, error) {
		var a model.ActiveTest
		err := row.Scan(&a.TestID, &a.Title, &a.CourseCode, &a.CourseName, &a.TimeLimitMinutes, &a.DueDate, &a.StartedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan active tests: %w", err)
	}
	return tests, nil
}
