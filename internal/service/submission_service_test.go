package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submissionFixture struct {
	test  *model.Test
	sub   *model.Submission
	store *fakeSubmissionStore
	svc   *SubmissionService
}

func setupSubmissions(t *testing.T) (*submissionFixture, func() []string, func(string) (string, error)) {
	t.Helper()
	mr, rdb := newRedis(t)

	test := newPhysicsTest()
	sub := &model.Submission{
		ID:        uuid.New(),
		StudentID: 42,
		TestID:    test.ID,
		Status:    model.SubmissionStatusInProgress,
		Answers:   model.AnswerMap{"stored": model.TextAnswer("from postgres")},
		StartedAt: t0,
	}
	store := newFakeSubmissionStore(sub)
	tests := NewTestService(newFakeTestStore(test), rdb, zerolog.Nop())
	svc := NewSubmissionService(store, NewAnswerBuffer(rdb), tests, zerolog.Nop())
	svc.now = func() time.Time { return t0.Add(10 * time.Minute) }

	queue := func() []string {
		items, _ := mr.List(config.WorkerKey.PersistSubmissionsQueue)
		return items
	}
	return &submissionFixture{test: test, sub: sub, store: store, svc: svc}, queue, mr.Get
}

func TestAutosaveIsBufferedAndQueued(t *testing.T) {
	f, queue, get := setupSubmissions(t)
	answers := model.AnswerMap{"q1": model.TextAnswer("0"), "q2": model.ListAnswer{"a", "c"}}

	got, err := f.svc.UpdateSubmission(context.Background(), f.sub.ID, &model.SubmissionUpdate{
		StudentID: 42, TestID: f.test.ID, Answers: answers, StartedAt: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusInProgress, got.Status)
	assert.Empty(t, f.store.submits)

	buffered, err := get(config.CacheKey.SubmissionAnswersKey(f.sub.ID.String()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"q1":"0","q2":["a","c"]}`, buffered)

	items := queue()
	require.Len(t, items, 1)
	var job PersistJob
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, f.sub.ID.String(), job.SubmissionID)
}

func TestFetchSubmissionOverlaysBuffer(t *testing.T) {
	f, _, _ := setupSubmissions(t)
	ctx := context.Background()

	sub, err := f.svc.FetchSubmission(ctx, 42, f.test.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"stored": model.TextAnswer("from postgres")}, sub.Answers)

	_, err = f.svc.UpdateSubmission(ctx, f.sub.ID, &model.SubmissionUpdate{
		Answers: model.AnswerMap{"q1": model.NumberAnswer(0)}, StartedAt: t0,
	})
	require.NoError(t, err)

	sub, err = f.svc.FetchSubmission(ctx, 42, f.test.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"q1": model.NumberAnswer(0)}, sub.Answers)
	assert.Equal(t, t0, sub.StartedAt)
}

func TestFetchSubmissionMissing(t *testing.T) {
	f, _, _ := setupSubmissions(t)

	sub, err := f.svc.FetchSubmission(context.Background(), 7, f.test.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestSubmitWritesThroughAndClearsBuffer(t *testing.T) {
	f, _, get := setupSubmissions(t)
	ctx := context.Background()

	_, err := f.svc.UpdateSubmission(ctx, f.sub.ID, &model.SubmissionUpdate{
		Answers: model.AnswerMap{"q1": model.TextAnswer("draft")}, StartedAt: t0,
	})
	require.NoError(t, err)

	status := model.SubmissionStatusSubmitted
	at := t0.Add(20 * time.Minute)
	final := model.AnswerMap{"q1": model.TextAnswer("final")}
	got, err := f.svc.UpdateSubmission(ctx, f.sub.ID, &model.SubmissionUpdate{
		Status: &status, Answers: final, StartedAt: t0, SubmittedAt: &at,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusSubmitted, got.Status)

	require.Len(t, f.store.submits, 1)
	assert.Equal(t, final, f.store.submits[0].answers)
	assert.Equal(t, at, f.store.submits[0].submittedAt)
	assert.Equal(t, t0, f.store.submits[0].startedAt)

	_, err = get(config.CacheKey.SubmissionAnswersKey(f.sub.ID.String()))
	assert.Error(t, err)

	// A repeated submit carries the same payload and succeeds.
	_, err = f.svc.UpdateSubmission(ctx, f.sub.ID, &model.SubmissionUpdate{
		Status: &status, Answers: final, StartedAt: t0, SubmittedAt: &at,
	})
	require.NoError(t, err)

	sub, err := f.svc.FetchSubmission(ctx, 42, f.test.ID)
	require.NoError(t, err)
	assert.Equal(t, final, sub.Answers)
}

func TestSubmitFailureKeepsBuffer(t *testing.T) {
	f, _, get := setupSubmissions(t)
	ctx := context.Background()
	f.store.fail = errBoom

	_, err := f.svc.UpdateSubmission(ctx, f.sub.ID, &model.SubmissionUpdate{
		Answers: model.AnswerMap{"q1": model.TextAnswer("draft")}, StartedAt: t0,
	})
	require.NoError(t, err)

	status := model.SubmissionStatusSubmitted
	_, err = f.svc.UpdateSubmission(ctx, f.sub.ID, &model.SubmissionUpdate{Status: &status, StartedAt: t0})
	assert.ErrorIs(t, err, errBoom)

	_, err = get(config.CacheKey.SubmissionAnswersKey(f.sub.ID.String()))
	assert.NoError(t, err)
}

func TestUpdateSubmissionRejectsOtherStatuses(t *testing.T) {
	f, _, _ := setupSubmissions(t)
	status := model.SubmissionStatusGraded

	_, err := f.svc.UpdateSubmission(context.Background(), f.sub.ID, &model.SubmissionUpdate{Status: &status})
	assert.ErrorIs(t, err, ErrUnsupportedStatus)
}

func TestGetStateRecomputesRemaining(t *testing.T) {
	f, _, _ := setupSubmissions(t)

	// Limit 60 min, due at +30 min, now at +10 min.
	state, err := f.svc.GetState(context.Background(), 42, f.test.ID)
	require.NoError(t, err)
	require.NotNil(t, state.RemainingSeconds)
	assert.Equal(t, 1200, *state.RemainingSeconds)
	assert.Equal(t, f.sub.ID, state.SubmissionID)
}

func TestGetStateOpenEndedTest(t *testing.T) {
	f, _, _ := setupSubmissions(t)
	f.test.TimeLimitMinutes = nil
	f.test.DueDate = time.Time{}

	state, err := f.svc.GetState(context.Background(), 42, f.test.ID)
	require.NoError(t, err)
	assert.Nil(t, state.RemainingSeconds)
}
