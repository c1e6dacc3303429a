package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quizzles/internal/domain"
)

// ErrCode is a stable, machine-readable error identifier.
type ErrCode string

const (
	ErrCodeTokenRequired    ErrCode = "TOKEN_REQUIRED"
	ErrCodeTokenInvalid     ErrCode = "TOKEN_INVALID"
	ErrCodeInvalidLogin     ErrCode = "INVALID_CREDENTIALS"
	ErrCodeForbidden        ErrCode = "FORBIDDEN"
	ErrCodeAdminOnly        ErrCode = "ADMIN_ACCESS_ONLY"
	ErrCodeValidation       ErrCode = "VALIDATION_ERROR"
	ErrCodeInvalidID        ErrCode = "INVALID_ID"
	ErrCodeNotFound         ErrCode = "NOT_FOUND"
	ErrCodeConflict         ErrCode = "CONFLICT"
	ErrCodeAttemptCompleted ErrCode = "ATTEMPT_COMPLETED"
	ErrCodeInternal         ErrCode = "INTERNAL_ERROR"
)

var messages = map[ErrCode]string{
	ErrCodeTokenRequired:    "Authentication token required.",
	ErrCodeTokenInvalid:     "Authentication token is invalid or expired.",
	ErrCodeInvalidLogin:     "Invalid username or password.",
	ErrCodeForbidden:        "You are not allowed to access this resource.",
	ErrCodeAdminOnly:        "This resource is restricted to administrators.",
	ErrCodeValidation:       "Validation failed. Check your input.",
	ErrCodeInvalidID:        "Invalid id format.",
	ErrCodeNotFound:         "Resource not found.",
	ErrCodeConflict:         "Resource already exists.",
	ErrCodeAttemptCompleted: "This attempt is already completed.",
	ErrCodeInternal:         "Internal server error.",
}

// Response is the API envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

const ctxRequestID = "request_id"

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Data: data, Metadata: metadata(c)})
}

func failWithFields(c *gin.Context, status int, code ErrCode, fields map[string]string) {
	c.AbortWithStatusJSON(status, Response{
		Error:    &ErrorBody{Code: code, Message: messages[code], Fields: fields},
		Metadata: metadata(c),
	})
}

func fail(c *gin.Context, status int, code ErrCode) {
	failWithFields(c, status, code, nil)
}

// statusFor maps a domain error kind onto an HTTP status and code.
func statusFor(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, domain.ErrAdminRequired):
		return http.StatusForbidden, ErrCodeAdminOnly
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return http.StatusConflict, ErrCodeAttemptCompleted
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrCodeInvalidLogin
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeTokenInvalid
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func metadata(c *gin.Context) Metadata {
	id := c.GetString(ctxRequestID)
	if id == "" {
		id = uuid.New().String()
	}
	return Metadata{RequestID: id, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}
