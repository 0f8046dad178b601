package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the standardized API response envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody represents a structured error response.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ─── Builders ───────────────────────────────────────────────────────

// Success sends data in the envelope.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Data: data, Metadata: buildMetadata(c)})
}

// Fail sends an error envelope with the code's message.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, failure(c, code, nil))
}

// FailWithFields sends an error envelope with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, failure(c, code, fields))
}

// AbortFail stops the handler chain with an error envelope. Used by
// middleware.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, failure(c, code, nil))
}

func failure(c *gin.Context, code ErrCode, fields map[string]string) Response {
	return Response{
		Error:    &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields},
		Metadata: buildMetadata(c),
	}
}

func buildMetadata(c *gin.Context) Metadata {
	id := RequestID(c)
	if id == "" {
		id = uuid.NewString()
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
