package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/database"
	"github.com/stemsi/exstem-lms/internal/logger"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/service"
)

// reset-session signs a student out everywhere so they can log in from a
// new device. Optionally sets a new password at the same time.
func main() {
	var nisn, password string
	flag.StringVar(&nisn, "nisn", "", "NISN of the student to sign out")
	flag.StringVar(&password, "password", "", "Optional new password")
	flag.Parse()

	if nisn == "" {
		fmt.Fprintln(os.Stderr, "usage: reset-session -nisn <NISN> [-password <new password>]")
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL and Redis ───────────────────────────────
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

	authService := service.NewAuthService(cfg, rdb)
	studentService := service.NewStudentService(repository.NewStudentRepository(pool), authService)

	student, err := studentService.GetByNISN(ctx, nisn)
	if err != nil {
		log.Fatal().Err(err).Str("nisn", nisn).Msg("Student not found")
	}

	if password != "" {
		if err := studentService.ChangePassword(ctx, student.ID, password); err != nil {
			log.Fatal().Err(err).Msg("Failed to change password")
		}
		fmt.Println("Password changed.")
	}

	if err := authService.ResetStudentSession(ctx, student.ID); err != nil {
		log.Fatal().Err(err).Msg("Failed to reset session")
	}

	fmt.Printf("Success! %s (NISN %s) can sign in again.\n", student.Name, student.NISN)
}
