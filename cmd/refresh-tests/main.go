package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/database"
	"github.com/stemsi/exstem-lms/internal/logger"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/service"
)

// refresh-tests reloads cached tests from PostgreSQL after they were edited,
// deactivated or re-dated. With no arguments every active test is re-warmed.
func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: refresh-tests [test_id ...]")
	}
	flag.Parse()

	ids := make([]uuid.UUID, 0, flag.NArg())
	for _, arg := range flag.Args() {
		id, err := uuid.Parse(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid test id %q\n", arg)
			os.Exit(2)
		}
		ids = append(ids, id)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	testService := service.NewTestService(repository.NewTestRepository(pool), rdb, log)

	if len(ids) == 0 {
		if err := testService.PrewarmActiveTests(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to refresh active tests")
		}
		return
	}

	failed := 0
	for _, id := range ids {
		if err := testService.RefreshTest(ctx, id); err != nil {
			log.Error().Err(err).Str("test_id", id.String()).Msg("Failed to refresh test")
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
