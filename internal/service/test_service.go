package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
)

// testCacheTTL bounds how long a test edited in PostgreSQL can be served
// stale. RefreshTest drops the wait to zero.
const testCacheTTL = 6 * time.Hour

// TestStore is the persistence the TestService reads from.
type TestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error)
	ListActive(ctx context.Context) ([]model.Test, error)
}

// TestService serves tests from Redis, falling back to PostgreSQL.
type TestService struct {
	store TestStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(store TestStore, rdb *redis.Client, log zerolog.Logger) *TestService {
	return &TestService{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "test_service").Logger(),
	}
}

// FetchTestByID returns the test with its questions. A Redis failure is
// logged and the test is read from PostgreSQL.
func (s *TestService) FetchTestByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	key := config.CacheKey.TestPayloadKey(id.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t model.Test
		if err := json.Unmarshal(data, &t); err == nil {
			return &t, nil
		}
		s.log.Warn().Str("test_id", id.String()).Msg("Corrupt cached test, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Test cache read failed")
	}

	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache(ctx, t, testCacheTTL); err != nil {
		s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Test cache write failed")
	}
	return t, nil
}

// GetPaper returns the student-facing test paper.
func (s *TestService) GetPaper(ctx context.Context, id uuid.UUID) (*model.TestPaper, error) {
	t, err := s.FetchTestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Paper(), nil
}

// Invalidate drops the cached copy of a test.
func (s *TestService) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.TestPayloadKey(id.String())).Err()
}

// RefreshTest re-reads a test from PostgreSQL and replaces its cached copy,
// so deactivations and new due dates reach the session engine immediately.
// A test that no longer exists is dropped from the cache.
func (s *TestService) RefreshTest(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrTestNotFound) {
		if err := s.Invalidate(ctx, id); err != nil {
			return fmt.Errorf("invalidate test: %w", err)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("get test: %w", err)
	}
	if err := s.cache(ctx, t, testCacheTTL); err != nil {
		return err
	}

	s.log.Info().
		Str("test_id", id.String()).
		Bool("is_active", t.IsActive).
		Msg("Test cache refreshed")
	return nil
}

// PrewarmActiveTests loads all active tests into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *TestService) PrewarmActiveTests(ctx context.Context) error {
	tests, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tests: %w", err)
	}

	if len(tests) == 0 {
		s.log.Info().Msg("No active tests to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(tests)).Msg("Prewarming active tests...")

	warmed := 0
	for i := range tests {
		t, err := s.store.GetByID(ctx, tests[i].ID)
		if err == nil {
			err = s.cache(ctx, t, testCacheTTL)
		}
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("test_id", tests[i].ID.String()).
				Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(tests)).
		Msg("Prewarming complete")
	return nil
}

func (s *TestService) cache(ctx context.Context, t *model.Test, ttl time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	return s.rdb.Set(ctx, config.CacheKey.TestPayloadKey(t.ID.String()), data, ttl).Err()
}
