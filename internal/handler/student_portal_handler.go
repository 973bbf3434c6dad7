package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-lms/internal/middleware"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/response"
	"github.com/stemsi/exstem-lms/internal/service"
	"github.com/stemsi/exstem-lms/internal/session"
)

// StudentPortalHandler handles the student-facing REST endpoints around a
// test attempt.
type StudentPortalHandler struct {
	testService       *service.TestService
	submissionService *service.SubmissionService
	reviewService     *service.ReviewService
	registry          *session.Registry
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	testService *service.TestService,
	submissionService *service.SubmissionService,
	reviewService *service.ReviewService,
	registry *session.Registry,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		testService:       testService,
		submissionService: submissionService,
		reviewService:     reviewService,
		registry:          registry,
	}
}

// GetTestPaper godoc
// GET /api/v1/student/tests/:test_id/paper
// Returns the test without canonical answers.
// SECURITY: Requires a submission for this test, so papers of tests the
// student was never assigned stay private.
func (h *StudentPortalHandler) GetTestPaper(c *gin.Context) {
	claims, testID, ok := studentAndTest(c)
	if !ok {
		return
	}

	sub, err := h.submissionService.FetchSubmission(c.Request.Context(), claims.UserID, testID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if sub == nil {
		response.Fail(c, http.StatusForbidden, response.ErrSubmissionNotFound)
		return
	}

	paper, err := h.testService.GetPaper(c.Request.Context(), testID)
	if err != nil {
		failLookup(c, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// GetTestState godoc
// GET /api/v1/student/tests/:test_id/state
// Returns the answered questions and the remaining time, so a reloaded page
// can resume where it left off.
func (h *StudentPortalHandler) GetTestState(c *gin.Context) {
	claims, testID, ok := studentAndTest(c)
	if !ok {
		return
	}

	state, err := h.submissionService.GetState(c.Request.Context(), claims.UserID, testID)
	if err != nil {
		failLookup(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetReview godoc
// GET /api/v1/student/tests/:test_id/review
// Returns the graded view of a submitted test.
func (h *StudentPortalHandler) GetReview(c *gin.Context) {
	claims, testID, ok := studentAndTest(c)
	if !ok {
		return
	}

	review, err := h.reviewService.GetReview(c.Request.Context(), claims.UserID, testID)
	if err != nil {
		if errors.Is(err, service.ErrReviewUnavailable) {
			response.Fail(c, http.StatusConflict, response.ErrReviewUnavailable)
			return
		}
		failLookup(c, err)
		return
	}

	response.Success(c, http.StatusOK, review)
}

// UploadAnswerFiles godoc
// POST /api/v1/student/tests/:test_id/questions/:question_id/files
// Uploads files (multipart field "files") into the student's live session.
// Files that upload are kept even when others fail.
func (h *StudentPortalHandler) UploadAnswerFiles(c *gin.Context) {
	claims, testID, ok := studentAndTest(c)
	if !ok {
		return
	}
	questionID := c.Param("question_id")

	sess, found := h.registry.Lookup(claims.UserID, testID)
	if !found {
		response.Fail(c, http.StatusConflict, response.ErrNoLiveSession)
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}

	uploads, closeAll, err := openUploads(form.File["files"])
	defer closeAll()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}

	if err := sess.AttachFiles(c.Request.Context(), questionID, uploads); err != nil {
		var fe *session.FileError
		if !errors.Is(err, session.ErrNotEditable) && errors.As(err, &fe) {
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrPartialUpload, fileErrorFields(err))
			return
		}
		failSessionEdit(c, err)
		return
	}

	answer, _ := sess.Answer(questionID)
	response.Success(c, http.StatusOK, gin.H{"question_id": questionID, "answer": answer})
}

// DeleteAnswerFiles godoc
// DELETE /api/v1/student/tests/:test_id/questions/:question_id/files
// Deletes every file of the question's answer and clears it.
func (h *StudentPortalHandler) DeleteAnswerFiles(c *gin.Context) {
	claims, testID, ok := studentAndTest(c)
	if !ok {
		return
	}
	questionID := c.Param("question_id")

	sess, found := h.registry.Lookup(claims.UserID, testID)
	if !found {
		response.Fail(c, http.StatusConflict, response.ErrNoLiveSession)
		return
	}

	if err := sess.ClearFileAnswer(c.Request.Context(), questionID); err != nil {
		var fe *session.FileError
		if errors.As(err, &fe) {
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrPartialUpload, fileErrorFields(err))
			return
		}
		failSessionEdit(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_id": questionID})
}

// ─── Helpers ──────────────────────────────────────────────────────────

func studentAndTest(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, testID, true
}

func failLookup(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrTestNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
	case errors.Is(err, repository.ErrSubmissionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSubmissionNotFound)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func failSessionEdit(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotEditable):
		response.Fail(c, http.StatusConflict, response.ErrNotEditable)
	case errors.Is(err, session.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
	case errors.Is(err, session.ErrNotFileQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrNotFileQuestion)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// openUploads opens every multipart file. The returned func closes whatever
// was opened, including on error.
func openUploads(headers []*multipart.FileHeader) ([]model.FileUpload, func(), error) {
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	uploads := make([]model.FileUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, f)
		uploads = append(uploads, model.FileUpload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return uploads, closeAll, nil
}

// fileErrorFields maps each failed file name to its reason.
func fileErrorFields(err error) map[string]string {
	fields := make(map[string]string)
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		var fe *session.FileError
		if errors.As(e, &fe) {
			fields[fe.FileName] = fe.Err.Error()
		}
	}
	return fields
}
