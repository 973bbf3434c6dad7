package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// retry runs fn until it succeeds, the attempts run out or ctx ends. The
// delay starts at initial and doubles after each failure.
func retry(ctx context.Context, log zerolog.Logger, what string, attempts int, initial time.Duration, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = initial << attempts
	b.MaxElapsedTime = 0

	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.RetryNotify(func() error {
		attempt++
		return fn(ctx)
	}, policy, func(err error, next time.Duration) {
		log.Warn().Err(err).
			Str("target", what).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Msg("Connection failed, retrying")
	})
}
