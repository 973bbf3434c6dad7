package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/database"
	"github.com/stemsi/exstem-lms/internal/logger"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/service"
)

// seed-demo creates a course, one test exercising every question type, a
// batch of students and an IN_PROGRESS submission for each of them.
func main() {
	var students, limit int
	var password string
	flag.IntVar(&students, "students", 20, "Number of students to create")
	flag.IntVar(&limit, "limit", 60, "Time limit in minutes (0 for due-date only)")
	flag.StringVar(&password, "password", "stemsijaya", "Password for every seeded student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	courseRepo := repository.NewCourseRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	studentService := service.NewStudentService(repository.NewStudentRepository(pool), service.NewAuthService(cfg, nil))

	fmt.Println("=== Seeding demo test ===")

	course := &model.Course{Code: "PHY-XII", Name: "Physics XII"}
	if err := courseRepo.Create(ctx, course); err != nil {
		log.Fatal().Err(err).Msg("Failed to create course")
	}
	fmt.Printf("Course %s ready with ID: %s\n", course.Code, course.ID)

	test := demoTest(course, limit)
	if err := testRepo.Create(ctx, test); err != nil {
		log.Fatal().Err(err).Msg("Failed to create test")
	}
	fmt.Printf("Created test %q with ID: %s (%d questions)\n", test.Title, test.ID, len(test.Questions))

	successCount := 0
	for i := range students {
		nisn := fmt.Sprintf("demo%03d", i+1)
		student := &model.Student{
			NISN:         nisn,
			Name:         fmt.Sprintf("Demo Student %d", i+1),
			PasswordHash: password,
		}

		err := studentService.Create(ctx, student)
		if errors.Is(err, repository.ErrDuplicateNISN) {
			student, err = studentService.GetByNISN(ctx, nisn)
		}
		if err != nil {
			fmt.Printf("Error creating student %s: %v\n", nisn, err)
			continue
		}

		sub := &model.Submission{
			StudentID: student.ID,
			TestID:    test.ID,
			StartedAt: time.Now(),
		}
		if err := submissionRepo.Create(ctx, sub); err != nil {
			fmt.Printf("Error starting test for %s: %v\n", student.NISN, err)
			continue
		}

		successCount++
		if successCount%10 == 0 {
			fmt.Printf("Prepared %d students...\n", successCount)
		}
	}

	fmt.Printf("\nSeed completed! %d/%d students can take test %s.\n", successCount, students, test.ID)
}

func demoTest(course *model.Course, limit int) *model.Test {
	canon := func(v any) json.RawMessage {
		data, _ := json.Marshal(v)
		return data
	}

	questions := []model.Question{
		{
			Type:            model.QuestionTypeMultipleChoice,
			QuestionText:    "What is the SI unit of force?",
			Points:          2,
			Options:         []string{"Joule", "Newton", "Watt", "Pascal"},
			CanonicalAnswer: canon("Newton"),
		},
		{
			Type:            model.QuestionTypeTrueFalse,
			QuestionText:    "Sound travels faster in water than in air.",
			Points:          1,
			CanonicalAnswer: canon(true),
		},
		{
			Type:            model.QuestionTypeShortAnswer,
			QuestionText:    "Name the force that keeps planets in orbit.",
			Points:          2,
			CanonicalAnswer: canon("gravity"),
		},
		{
			Type:            model.QuestionTypeNumeric,
			QuestionText:    "Standard gravitational acceleration in m/s² (two decimals).",
			Points:          3,
			CanonicalAnswer: canon(9.81),
		},
		{
			Type:            model.QuestionTypeMultiSelect,
			QuestionText:    "Which of these are vector quantities?",
			Points:          3,
			Options:         []string{"velocity", "mass", "force", "temperature"},
			CanonicalAnswer: canon([]string{"velocity", "force"}),
		},
		{
			Type:         model.QuestionTypeMatching,
			QuestionText: "Match each quantity with its unit.",
			Points:       3,
			MatchPairs: []model.MatchPair{
				{Left: "energy", Right: "joule"},
				{Left: "power", Right: "watt"},
				{Left: "pressure", Right: "pascal"},
			},
			CanonicalAnswer: canon([]model.MatchPair{
				{Left: "energy", Right: "joule"},
				{Left: "power", Right: "watt"},
				{Left: "pressure", Right: "pascal"},
			}),
		},
		{
			Type:            model.QuestionTypeReorder,
			QuestionText:    "Order the electromagnetic waves from longest to shortest wavelength.",
			Points:          2,
			ReorderItems:    []string{"X-ray", "radio", "visible", "infrared"},
			CanonicalAnswer: canon([]string{"radio", "infrared", "visible", "X-ray"}),
		},
		{
			Type:            model.QuestionTypeFillInBlank,
			QuestionText:    "Newton's second law: F = ___ × ___.",
			Points:          2,
			BlankCount:      2,
			CanonicalAnswer: canon([]string{"m", "a"}),
		},
		{
			Type:         model.QuestionTypeEssay,
			QuestionText: "Explain why astronauts feel weightless in orbit.",
			Points:       5,
		},
		{
			Type:         model.QuestionTypeCode,
			QuestionText: "Write a function that returns the kinetic energy of a body.",
			Points:       5,
			Language:     "python",
		},
		{
			Type:         model.QuestionTypeFileUpload,
			QuestionText: "Upload your lab report on the pendulum experiment.",
			Points:       5,
		},
	}

	var total float64
	for i := range questions {
		questions[i].OrderNum = i + 1
		total += questions[i].Points
	}

	t := &model.Test{
		CourseID:    course.ID,
		Title:       "Mechanics and Waves Quiz",
		Questions:   questions,
		TotalPoints: total,
		DueDate:     time.Now().Add(7 * 24 * time.Hour),
		IsActive:    true,
	}
	if limit > 0 {
		t.TimeLimitMinutes = &limit
	}
	return t
}
