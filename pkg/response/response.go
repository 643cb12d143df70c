package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/apperrors"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeStorageError    = "STORAGE_ERROR"
	CodeComputeError    = "COMPUTE_ERROR"
	CodeSystemError     = "SYSTEM_ERROR"
	CodeServiceError    = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// FromError writes the envelope matching an application error. Errors that
// are not classified become a SERVICE_ERROR.
func FromError(c *fiber.Ctx, err error) error {
	var details interface{}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Field != "" {
		details = map[string]string{appErr.Field: appErr.Message}
	}
	return Error(c, apperrors.HTTPStatus(err), Code(err), err.Error(), details)
}

// Code classifies err into an error code.
func Code(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return CodeValidationError
	case errors.Is(err, apperrors.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return CodeConflict
	case errors.Is(err, apperrors.ErrRemoteAccess):
		return CodeComputeError
	case errors.Is(err, apperrors.ErrStorage):
		return CodeStorageError
	case errors.Is(err, apperrors.ErrSystem):
		return CodeSystemError
	default:
		return CodeServiceError
	}
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
