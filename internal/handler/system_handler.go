package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/response"
	"github.com/stemsi/exstem-lms/internal/session"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports process health and engine load.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	registry  *session.Registry
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db Pinger, rdb *redis.Client, registry *session.Registry, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		registry:  registry,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	Postgres     string `json:"postgres"`
	Redis        string `json:"redis"`
	LiveSessions int    `json:"live_sessions"`
	QueueAnswers int64  `json:"queue_answers"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 200 when PostgreSQL and Redis answer, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Postgres:     "ok",
		Redis:        "ok",
		LiveSessions: h.registry.Len(),
		Goroutines:   runtime.NumGoroutine(),
		GoVersion:    runtime.Version(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAlloc = ms.HeapAlloc
	report.NumGC = ms.NumGC

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
		report.Status, report.Postgres = "degraded", "unreachable"
	}

	pipe := h.rdb.Pipeline()
	pingCmd := pipe.Ping(ctx)
	queueCmd := pipe.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue)
	_, _ = pipe.Exec(ctx)
	if err := pingCmd.Err(); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		report.Status, report.Redis = "degraded", "unreachable"
	} else {
		report.QueueAnswers, _ = queueCmd.Result()
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
