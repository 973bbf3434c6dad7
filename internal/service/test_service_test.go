package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchTestByIDCachesAside(t *testing.T) {
	mr, rdb := newRedis(t)
	test := newPhysicsTest()
	store := newFakeTestStore(test)
	svc := NewTestService(store, rdb, zerolog.Nop())
	ctx := context.Background()

	got, err := svc.FetchTestByID(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, test.Title, got.Title)
	assert.Len(t, got.Questions, 4)
	assert.True(t, mr.Exists(config.CacheKey.TestPayloadKey(test.ID.String())))

	got, err = svc.FetchTestByID(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, test.DueDate, got.DueDate.UTC())
	assert.Equal(t, 60, got.TimeLimit())
	assert.Equal(t, 1, store.getCount())

	require.NoError(t, svc.Invalidate(ctx, test.ID))
	_, err = svc.FetchTestByID(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.getCount())
}

func TestFetchTestByIDReloadsCorruptCache(t *testing.T) {
	mr, rdb := newRedis(t)
	test := newPhysicsTest()
	store := newFakeTestStore(test)
	svc := NewTestService(store, rdb, zerolog.Nop())

	require.NoError(t, mr.Set(config.CacheKey.TestPayloadKey(test.ID.String()), "{not json"))

	got, err := svc.FetchTestByID(context.Background(), test.ID)
	require.NoError(t, err)
	assert.Equal(t, test.ID, got.ID)
	assert.Equal(t, 1, store.getCount())
}

func TestFetchTestByIDUnknown(t *testing.T) {
	_, rdb := newRedis(t)
	svc := NewTestService(newFakeTestStore(), rdb, zerolog.Nop())

	_, err := svc.FetchTestByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrTestNotFound)
}

func TestPrewarmActiveTests(t *testing.T) {
	mr, rdb := newRedis(t)
	active := newPhysicsTest()
	inactive := newPhysicsTest()
	inactive.IsActive = false
	svc := NewTestService(newFakeTestStore(active, inactive), rdb, zerolog.Nop())

	require.NoError(t, svc.PrewarmActiveTests(context.Background()))

	key := config.CacheKey.TestPayloadKey(active.ID.String())
	assert.True(t, mr.Exists(key))
	assert.Equal(t, testCacheTTL, mr.TTL(key))
	assert.False(t, mr.Exists(config.CacheKey.TestPayloadKey(inactive.ID.String())))
}

func TestPrewarmedTestsExpire(t *testing.T) {
	mr, rdb := newRedis(t)
	test := newPhysicsTest()
	store := newFakeTestStore(test)
	svc := NewTestService(store, rdb, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, svc.PrewarmActiveTests(ctx))
	store.mu.Lock()
	store.tests[test.ID].IsActive = false
	store.mu.Unlock()

	got, err := svc.FetchTestByID(ctx, test.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	mr.FastForward(testCacheTTL + time.Second)
	got, err = svc.FetchTestByID(ctx, test.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestRefreshTest(t *testing.T) {
	mr, rdb := newRedis(t)
	test := newPhysicsTest()
	store := newFakeTestStore(test)
	svc := NewTestService(store, rdb, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, svc.PrewarmActiveTests(ctx))
	newDue := test.DueDate.Add(-time.Hour)
	store.mu.Lock()
	store.tests[test.ID].IsActive = false
	store.tests[test.ID].DueDate = newDue
	store.mu.Unlock()

	require.NoError(t, svc.RefreshTest(ctx, test.ID))
	got, err := svc.FetchTestByID(ctx, test.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.True(t, newDue.Equal(got.DueDate))

	store.mu.Lock()
	delete(store.tests, test.ID)
	store.mu.Unlock()
	assert.ErrorIs(t, svc.RefreshTest(ctx, test.ID), repository.ErrTestNotFound)
	assert.False(t, mr.Exists(config.CacheKey.TestPayloadKey(test.ID.String())))
}

func TestGetPaperStripsCanonicalAnswers(t *testing.T) {
	_, rdb := newRedis(t)
	test := newPhysicsTest()
	svc := NewTestService(newFakeTestStore(test), rdb, zerolog.Nop())

	paper, err := svc.GetPaper(context.Background(), test.ID)
	require.NoError(t, err)
	require.Len(t, paper.Questions, 4)
	assert.Equal(t, []string{"H2O", "NaCl"}, paper.Questions[2].MatchLeft)
	assert.Equal(t, []string{"salt", "water"}, paper.Questions[2].MatchRight)
}
