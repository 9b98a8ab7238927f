package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "skillswap-backend/pkg/errors"
)

// Response represents standard API response envelope
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Success sends a successful response
func Success(c *gin.Context, statusCode int, data interface{}) {
	write(c, statusCode, Response{Success: true, Data: data})
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	write(c, statusCode, Response{Error: &ErrorDetail{Code: errorCode, Message: errorMessage}})
}

// FromError renders err using its AppError code and status, or 500 otherwise
func FromError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
}

// ValidationError sends a validation error response (400)
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, string(apperrors.ErrCodeValidation), message)
}

// Unauthorized sends unauthorized error (401)
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, string(apperrors.ErrCodeUnauthorized), message)
}

// TooManyRequests sends rate limit error (429)
func TooManyRequests(c *gin.Context) {
	Error(c, http.StatusTooManyRequests, string(apperrors.ErrCodeRateLimitExceeded), "Rate limit exceeded")
}

// InternalError sends internal server error (500)
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, string(apperrors.ErrCodeInternal), message)
}

// write stamps the envelope with the time and the id RequestLogger assigned
func write(c *gin.Context, statusCode int, body Response) {
	body.Meta = Meta{Timestamp: time.Now().UTC(), RequestID: c.GetString("request_id")}
	c.JSON(statusCode, body)
}
