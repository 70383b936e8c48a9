package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrNotEligible        = errors.New("not_eligible")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	// Server-side data faults may wrap parse errors; they are never 400s.
	switch {
	case errors.Is(err, archivaldomain.ErrCorrupted):
		return http.StatusInternalServerError, errorPayload{
			Type:    "data_corruption",
			Message: "archived record failed integrity verification",
		}
	case errors.Is(err, archivaldomain.ErrStoredDocument):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	// Inconsistent archives also match ErrNotFound; keep this case first.
	case errors.Is(err, archivaldomain.ErrArchiveInconsistent):
		return http.StatusNotFound, errorPayload{
			Type:    "archive_inconsistent",
			Message: "record archive is missing",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, archivaldomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, archivaldomain.ErrAlreadyMigrated):
		return http.StatusConflict, errorPayload{
			Type:    "already_migrated",
			Message: "record already archived",
		}
	case errors.Is(err, ErrNotEligible):
		return http.StatusConflict, errorPayload{
			Type:    "not_eligible",
			Message: "record is within the retention window",
		}
	case errors.Is(err, archivaldomain.ErrIDConflict):
		return http.StatusConflict, errorPayload{
			Type:    "id_conflict",
			Message: "record id belongs to another customer",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the mapped type and status.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, archivaldomain.ErrInvalidID),
		errors.Is(err, recorddomain.ErrInvalidRecord),
		errors.Is(err, recorddomain.ErrInvalidMetadata):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, archivaldomain.ErrInvalidID):
		return "invalid_id"
	case errors.Is(err, recorddomain.ErrInvalidRecord):
		return "invalid_record"
	case errors.Is(err, recorddomain.ErrInvalidMetadata):
		return "invalid_metadata"
	default:
		return "invalid_request"
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_record":
		return "record must carry id, customer_id and created_at"
	default:
		return "invalid value"
	}
}
