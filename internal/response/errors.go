package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Test-specific ─────────────────────────────────────────────────
	ErrTestNotFound       ErrCode = "TEST_NOT_FOUND"
	ErrSubmissionNotFound ErrCode = "SUBMISSION_NOT_FOUND"
	ErrReviewUnavailable  ErrCode = "REVIEW_UNAVAILABLE"
	ErrNoLiveSession      ErrCode = "NO_LIVE_SESSION"
	ErrNotEditable        ErrCode = "SESSION_NOT_EDITABLE"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrNotFileQuestion    ErrCode = "NOT_FILE_QUESTION"

	// ─── Files ─────────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"
	ErrPartialUpload   ErrCode = "PARTIAL_UPLOAD"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "NISN or password is incorrect."
	case ErrSessionActive:
		return "You are already signed in on another device."
	case ErrSessionInvalidated:
		return "Your session has ended. Please sign in again."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Test-specific ─────────────────────────────────────────────────
	case ErrTestNotFound:
		return "Test not found."
	case ErrSubmissionNotFound:
		return "You have not started this test."
	case ErrReviewUnavailable:
		return "The review is available once the test is submitted."
	case ErrNoLiveSession:
		return "Open the test before uploading files."
	case ErrNotEditable:
		return "This test is not accepting changes."
	case ErrUnknownQuestion:
		return "The question does not belong to this test."
	case ErrNotFileQuestion:
		return "This question does not accept files."

	// ─── Files ─────────────────────────────────────────────────────────
	case ErrFileRequired:
		return "A file upload is required."
	case ErrUnsupportedFile:
		return "Unsupported file type."
	case ErrFileTooLarge:
		return "File exceeds the size limit."
	case ErrPartialUpload:
		return "Some files could not be uploaded."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}

// IsRetryable reports whether repeating the request unchanged may succeed.
func IsRetryable(code ErrCode) bool {
	switch code {
	case ErrPartialUpload, ErrRateLimitExceeded, ErrInternal:
		return true
	default:
		return false
	}
}
