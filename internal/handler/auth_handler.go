package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-lms/internal/middleware"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/response"
	"github.com/stemsi/exstem-lms/internal/service"
	"github.com/stemsi/exstem-lms/internal/validator"
)

// AuthHandler signs students in and out.
type AuthHandler struct {
	authService    *service.AuthService
	studentService *service.StudentService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, studentService *service.StudentService) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		studentService: studentService,
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Returns a token and the tests the student can resume. Rejected with 409
// while another device holds the student's session.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	ctx := c.Request.Context()

	student, err := h.studentService.Authenticate(ctx, req.NISN, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	profile, err := h.studentService.Profile(ctx, student)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	token, err := h.authService.GenerateStudentToken(ctx, student.ID, student.NISN)
	if errors.Is(err, service.ErrSessionAlreadyActive) {
		response.Fail(c, http.StatusConflict, response.ErrSessionActive)
		return
	}
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, model.StudentLoginResponse{Token: token, StudentProfile: *profile})
}

// GetStudentProfile godoc
// GET /api/v1/auth/student/me
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	profile, err := h.studentService.ProfileByID(c.Request.Context(), claims.UserID)
	switch {
	case errors.Is(err, repository.ErrStudentNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case err != nil:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	default:
		response.Success(c, http.StatusOK, profile)
	}
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
// Frees the login slot so another device can sign in.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), claims.UserID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, nil)
}
