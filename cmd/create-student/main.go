package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/database"
	"github.com/stemsi/exstem-lms/internal/logger"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/service"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	// Hashing never touches Redis, so the auth service runs without it.
	authService := service.NewAuthService(cfg, nil)
	studentService := service.NewStudentService(repository.NewStudentRepository(pool), authService)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Student ===")

	fmt.Print("Enter NISN: ")
	nisn, _ := reader.ReadString('\n')
	nisn = strings.TrimSpace(nisn)
	if len(nisn) < 4 {
		fmt.Println("Error: NISN must be at least 4 characters")
		return
	}

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	password := string(bytePassword)
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	fmt.Print("Confirm Password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil || string(confirm) != password {
		fmt.Println("Error: Passwords do not match")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	student := &model.Student{
		NISN:         nisn,
		Name:         name,
		PasswordHash: password,
	}

	if err := studentService.Create(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicateNISN) {
			fmt.Printf("Error: a student with NISN %s already exists\n", nisn)
			return
		}
		log.Fatal().Err(err).Msg("Failed to create student")
	}

	fmt.Printf("\nSuccess! Student '%s' (NISN %s) created with ID: %d\n", student.Name, student.NISN, student.ID)
}
