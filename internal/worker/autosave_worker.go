package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/service"
)

const (
	PollTimeout = 1 * time.Second // Must be >= 1s to satisfy Redis
	RetryDelay  = 5 * time.Second
)

// AnswerWriter persists a submission's answers while it is still in progress.
type AnswerWriter interface {
	UpdateAnswers(ctx context.Context, id uuid.UUID, answers model.AnswerMap) error
}

// AutosaveWorker consumes persist_submissions_queue and writes the buffered
// answer snapshots to PostgreSQL.
type AutosaveWorker struct {
	rdb        *redis.Client
	buffer     *service.AnswerBuffer
	writer     AnswerWriter
	batchSize  int
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(rdb *redis.Client, buffer *service.AnswerBuffer, writer AnswerWriter, batchSize int, log zerolog.Logger) *AutosaveWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	return &AutosaveWorker{
		rdb:        rdb,
		buffer:     buffer,
		writer:     writer,
		batchSize:  batchSize,
		retryDelay: RetryDelay,
		log:        log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	queue := config.WorkerKey.PersistSubmissionsQueue

	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, PollTimeout, queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	jobs := []string{result[1]}
	if w.batchSize > 1 {
		more, err := w.rdb.LPopCount(ctx, queue, w.batchSize-1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			w.log.Error().Err(err).Msg("LPop error")
		}
		jobs = append(jobs, more...)
	}

	failed := w.flush(ctx, jobs)
	if len(failed) == 0 {
		return
	}

	w.log.Error().Int("count", len(failed)).Msg("Persist error, retrying in 5s")
	// Push back to queue for retry.
	w.rdb.RPush(context.Background(), queue, stringsToAny(failed)...)
	select {
	case <-ctx.Done():
	case <-time.After(w.retryDelay):
	}
}

// flush persists each distinct submission once and returns the jobs to retry.
func (w *AutosaveWorker) flush(ctx context.Context, jobs []string) []string {
	seen := make(map[uuid.UUID]bool, len(jobs))
	var failed []string

	for _, raw := range jobs {
		var job service.PersistJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			w.log.Error().Err(err).Msg("Unmarshal error")
			continue
		}
		id, err := uuid.Parse(job.SubmissionID)
		if err != nil {
			w.log.Error().Err(err).Str("submission_id", job.SubmissionID).Msg("Invalid submission id")
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := w.persist(ctx, id); err != nil {
			w.log.Error().Err(err).Str("submission_id", id.String()).Msg("Persist error")
			failed = append(failed, raw)
		}
	}
	return failed
}

// persist writes the latest buffered snapshot, which may be newer than the job.
func (w *AutosaveWorker) persist(ctx context.Context, id uuid.UUID) error {
	answers, ok, err := w.buffer.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// Submitted since the job was queued.
		return nil
	}

	err = w.writer.UpdateAnswers(ctx, id, answers)
	if errors.Is(err, repository.ErrSubmissionLocked) {
		w.log.Debug().Str("submission_id", id.String()).Msg("Submission closed, dropping buffer")
		return w.buffer.Clear(ctx, id)
	}
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	var jobs []string
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSubmissionsQueue).Result()
		if err != nil {
			break
		}
		jobs = append(jobs, result)
	}
	if len(jobs) == 0 {
		return
	}

	failed := w.flush(ctx, jobs)
	if len(failed) > 0 {
		w.log.Error().Int("count", len(failed)).Msg("Drain persist error")
		w.rdb.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, stringsToAny(failed)...)
	}
	w.log.Info().Int("count", len(jobs)-len(failed)).Msg("Drained remaining items")
}

func stringsToAny(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
