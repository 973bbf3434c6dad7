package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lms/internal/model"
)

// ErrReviewUnavailable is returned while a submission is still being taken.
var ErrReviewUnavailable = errors.New("review is only available after submission")

// ReviewService builds the post-submission view of a test attempt.
type ReviewService struct {
	submissions SubmissionStore
	tests       *TestService
}

// NewReviewService creates a new ReviewService.
func NewReviewService(submissions SubmissionStore, tests *TestService) *ReviewService {
	return &ReviewService{submissions: submissions, tests: tests}
}

// GetReview grades the student's submission. A GRADED submission keeps the
// score and grade a teacher recorded; otherwise the auto-gradable questions
// are scored and the rest are counted as pending.
func (s *ReviewService) GetReview(ctx context.Context, studentID int, testID uuid.UUID) (*model.Review, error) {
	sub, err := s.submissions.GetByStudentAndTest(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}
	if !sub.Status.Terminal() {
		return nil, ErrReviewUnavailable
	}

	t, err := s.tests.FetchTestByID(ctx, testID)
	if err != nil {
		return nil, err
	}

	review := &model.Review{
		SubmissionID: sub.ID,
		TestID:       t.ID,
		Title:        t.Title,
		Status:       sub.Status,
		SubmittedAt:  sub.SubmittedAt,
		MaxScore:     t.TotalPoints,
		Grade:        sub.Grade,
		Items:        make([]model.ReviewItem, 0, len(t.Questions)),
	}

	var maxScore float64
	for i := range t.Questions {
		q := &t.Questions[i]
		answer := sub.Answers[q.ID.String()]
		g := gradeQuestion(q, answer)

		item := model.ReviewItem{
			QuestionID:      q.ID,
			Type:            q.Type,
			QuestionText:    q.QuestionText,
			Points:          q.Points,
			Answer:          answer,
			CanonicalAnswer: q.CanonicalAnswer,
		}
		if g.manual {
			review.PendingManual++
		} else {
			awarded, correct := g.awarded, g.correct
			item.Awarded = &awarded
			item.Correct = &correct
			review.Score += awarded
		}
		maxScore += q.Points
		review.Items = append(review.Items, item)
	}

	if review.MaxScore == 0 {
		review.MaxScore = maxScore
	}
	if sub.Status == model.SubmissionStatusGraded && sub.Score != nil {
		review.Score = *sub.Score
		review.PendingManual = 0
	}
	return review, nil
}
