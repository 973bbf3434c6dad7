package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/handler"
	"github.com/stemsi/exstem-lms/internal/logger"
	"github.com/stemsi/exstem-lms/internal/middleware"
	"github.com/stemsi/exstem-lms/internal/response"
	"github.com/stemsi/exstem-lms/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	Session       *handler.SessionHandler
	System        *handler.SystemHandler
}

// Limiters groups the rate limiters applied to abuse-prone routes.
type Limiters struct {
	Login  *middleware.RateLimiter
	Upload *middleware.RateLimiter
}

// DefaultLimiters allows 30 login attempts per minute per IP and 20 upload
// requests per minute per student.
func DefaultLimiters() Limiters {
	return Limiters{
		Login:  middleware.NewRateLimiter(30, time.Minute, nil),
		Upload: middleware.NewRateLimiter(20, time.Minute, nil),
	}
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters Limiters,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour

	// Request ID first so access logs and error bodies share it.
	router.Use(
		response.RequestIDMiddleware(),
		logger.GinMiddleware(log),
		gin.Recovery(),
		cors.New(corsConfig),
		middleware.BrotliWithConfig(middleware.BrotliConfig{
			Skipper: func(c *gin.Context) bool {
				return strings.HasPrefix(c.Request.URL.Path, "/uploads/")
			},
		}),
	)

	// Serve uploaded answer files. Names are random UUIDs, so they never change.
	uploadsGroup := router.Group("/uploads")
	uploadsGroup.Use(middleware.ImmutableFiles(365 * 24 * time.Hour))
	{
		uploadsGroup.Static("/", cfg.UploadDir)
	}

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/login", limiters.Login.Middleware(), handlers.Auth.StudentLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/tests/:test_id/paper", handlers.StudentPortal.GetTestPaper)
		studentAPI.GET("/tests/:test_id/state", handlers.StudentPortal.GetTestState)
		studentAPI.GET("/tests/:test_id/review", handlers.StudentPortal.GetReview)
		studentAPI.POST("/tests/:test_id/questions/:question_id/files",
			limiters.Upload.Middleware(),
			handlers.StudentPortal.UploadAnswerFiles,
		)
		studentAPI.DELETE("/tests/:test_id/questions/:question_id/files", handlers.StudentPortal.DeleteAnswerFiles)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/tests/:test_id/session", handlers.Session.Stream)
	}

	return router
}
