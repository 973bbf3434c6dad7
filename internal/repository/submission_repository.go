package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lms/internal/model"
)

var (
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrSubmissionLocked    = errors.New("submission is no longer editable")
	ErrDuplicateSubmission = errors.New("student already has a submission for this test")
)

const submissionColumns = `id, student_id, test_id, status, answers, started_at,
	submitted_at, score, grade`

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// GetByStudentAndTest retrieves the submission of a student for a test.
func (r *SubmissionRepository) GetByStudentAndTest(ctx context.Context, studentID int, testID uuid.UUID) (*model.Submission, error) {
	return r.one(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE student_id = $1 AND test_id = $2`, studentID, testID)
}

// GetByID retrieves a submission by its UUID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return r.one(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
}

// Create inserts an IN_PROGRESS submission. Only the seeding tools call it.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	if s.Answers == nil {
		s.Answers = model.AnswerMap{}
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submissions (student_id, test_id, status, answers, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		s.StudentID, s.TestID, model.SubmissionStatusInProgress, s.Answers, s.StartedAt,
	).Scan(&s.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSubmission
		}
		return err
	}
	s.Status = model.SubmissionStatusInProgress
	return nil
}

// UpdateAnswers replaces the answers of a submission that is still in progress.
func (r *SubmissionRepository) UpdateAnswers(ctx context.Context, id uuid.UUID, answers model.AnswerMap) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions SET answers = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		answers, id, model.SubmissionStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionLocked
	}
	return nil
}

// Submit stores the final answers and marks the submission SUBMITTED.
// Re-submitting an already SUBMITTED row succeeds with the new payload.
func (r *SubmissionRepository) Submit(ctx context.Context, id uuid.UUID, answers model.AnswerMap, startedAt, submittedAt time.Time) (*model.Submission, error) {
	s, err := r.one(ctx,
		`UPDATE submissions
		 SET status = $1, answers = $2, started_at = $3, submitted_at = $4, updated_at = NOW()
		 WHERE id = $5 AND status IN ($6, $1)
		 RETURNING `+submissionColumns,
		model.SubmissionStatusSubmitted, answers, startedAt, submittedAt, id,
		model.SubmissionStatusInProgress)
	if errors.Is(err, ErrSubmissionNotFound) {
		return nil, ErrSubmissionLocked
	}
	return s, err
}

func (r *SubmissionRepository) one(ctx context.Context, sql string, args ...any) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&s.ID, &s.StudentID, &s.TestID, &s.Status,
		&s.Answers, &s.StartedAt, &s.SubmittedAt, &s.Score, &s.Grade)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if s.Answers == nil {
		s.Answers = model.AnswerMap{}
	}
	return s, nil
}
