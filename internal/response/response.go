package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the API envelope. Exactly one of Data and Error is meaningful.
type Response struct {
	Data     any        `json:"data"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// ErrorBody describes a failed request. Retryable tells the client that
// repeating the same request may succeed, e.g. re-sending the files that
// failed in a partial upload.
type ErrorBody struct {
	Code      ErrCode           `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success sends data with the given status code.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, envelope(c, data, nil))
}

// Fail sends an error response with an error code and no field-level details.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, envelope(c, nil, errorBody(code, nil)))
}

// FailWithFields sends an error with per-field messages, keyed by JSON
// field name for validation errors and by file name for upload batches.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, envelope(c, nil, errorBody(code, fields)))
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, envelope(c, nil, errorBody(code, nil)))
}

func errorBody(code ErrCode, fields map[string]string) *ErrorBody {
	return &ErrorBody{
		Code:      code,
		Message:   GetMessage(code),
		Fields:    fields,
		Retryable: IsRetryable(code),
	}
}

func envelope(c *gin.Context, data any, errBody *ErrorBody) Response {
	return Response{
		Data:  data,
		Error: errBody,
		Metadata: Metadata{
			RequestID: RequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}
