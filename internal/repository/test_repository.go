package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lms/internal/model"
)

var ErrTestNotFound = errors.New("test not found")

const testColumns = `id, course_id, title, total_points, time_limit_minutes, due_date,
	is_active, created_at, updated_at`

// TestRepository handles test and question data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID retrieves a test together with its questions.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t, err := scanTest(r.pool.QueryRow(ctx,
		`SELECT `+testColumns+` FROM tests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, err
	}

	questions, err := r.ListQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Questions = questions
	return t, nil
}

// ListActive returns every active test without questions.
// Used for cache prewarming on application startup.
func (r *TestRepository) ListActive(ctx context.Context) ([]model.Test, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+testColumns+` FROM tests WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

// ListQuestions retrieves the questions of a test ordered by order_num.
func (r *TestRepository) ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, question_type, question_text, points,
		        COALESCE(options, '[]'::jsonb), COALESCE(match_pairs, '[]'::jsonb),
		        COALESCE(reorder_items, '[]'::jsonb), blank_count, language,
		        canonical_answer, order_num
		 FROM questions WHERE test_id = $1
		 ORDER BY order_num`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.Type, &q.QuestionText, &q.Points,
			&q.Options, &q.MatchPairs, &q.ReorderItems, &q.BlankCount, &q.Language,
			&q.CanonicalAnswer, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a test and its questions in one transaction.
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var due *time.Time
	if !t.DueDate.IsZero() {
		due = &t.DueDate
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO tests (course_id, title, total_points, time_limit_minutes, due_date, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		t.CourseID, t.Title, t.TotalPoints, t.TimeLimitMinutes, due, t.IsActive,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range t.Questions {
		q := &t.Questions[i]
		q.TestID = t.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO questions (test_id, question_type, question_text, points, options,
			                        match_pairs, reorder_items, blank_count, language,
			                        canonical_answer, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id`,
			q.TestID, q.Type, q.QuestionText, q.Points, q.Options, q.MatchPairs,
			q.ReorderItems, q.BlankCount, q.Language, q.CanonicalAnswer, q.OrderNum,
		).Scan(&q.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func scanTest(row pgx.Row) (*model.Test, error) {
	t := &model.Test{}
	var due *time.Time
	if err := row.Scan(&t.ID, &t.CourseID, &t.Title, &t.TotalPoints, &t.TimeLimitMinutes,
		&due, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if due != nil {
		t.DueDate = *due
	}
	return t, nil
}
