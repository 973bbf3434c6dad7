package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/model"
)

// bufferTTL outlives any realistic test window so a crashed worker can recover.
const bufferTTL = 24 * time.Hour

// PersistJob is the queue payload telling the autosave worker which buffered
// submission to flush.
type PersistJob struct {
	SubmissionID string `json:"submission_id"`
}

// AnswerBuffer keeps the latest answer snapshot of each in-progress
// submission in Redis until the autosave worker writes it to PostgreSQL.
type AnswerBuffer struct {
	rdb *redis.Client
}

// NewAnswerBuffer creates a new AnswerBuffer.
func NewAnswerBuffer(rdb *redis.Client) *AnswerBuffer {
	return &AnswerBuffer{rdb: rdb}
}

// Put stores the snapshot and queues the submission for persistence.
func (b *AnswerBuffer) Put(ctx context.Context, submissionID uuid.UUID, answers model.AnswerMap) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	job, err := json.Marshal(PersistJob{SubmissionID: submissionID.String()})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SubmissionAnswersKey(submissionID.String()), data, bufferTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer answers: %w", err)
	}
	return nil
}

// Get returns the buffered snapshot, or (nil, false) when nothing is buffered.
func (b *AnswerBuffer) Get(ctx context.Context, submissionID uuid.UUID) (model.AnswerMap, bool, error) {
	data, err := b.rdb.Get(ctx, config.CacheKey.SubmissionAnswersKey(submissionID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get buffered answers: %w", err)
	}

	var answers model.AnswerMap
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, false, fmt.Errorf("unmarshal buffered answers: %w", err)
	}
	if answers == nil {
		answers = model.AnswerMap{}
	}
	return answers, true, nil
}

// Clear drops the buffered snapshot.
func (b *AnswerBuffer) Clear(ctx context.Context, submissionID uuid.UUID) error {
	return b.rdb.Del(ctx, config.CacheKey.SubmissionAnswersKey(submissionID.String())).Err()
}
