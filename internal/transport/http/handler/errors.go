package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"github.com/sakashimaa/storefront/internal/repository"
	"github.com/sakashimaa/storefront/internal/service"
	"go.uber.org/zap"
)

const (
	msgHighDemand     = "High demand for this item. Please try again."
	msgOutcomeUnknown = "The request timed out and its outcome is unknown. Check the resource before retrying."
)

type ErrorResponse struct {
	Timestamp  time.Time `json:"timestamp"`
	Status     int       `json:"status"`
	Error      string    `json:"error"`
	Message    any       `json:"message"`
	Path       string    `json:"path"`
	ProductIDs []string  `json:"product_ids,omitempty"`
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, msgOutcomeUnknown
	case errors.Is(err, service.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable, "Service temporarily unavailable"
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInsufficientStock):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrConcurrentModification):
		return fiber.StatusConflict, msgHighDemand
	case errors.Is(err, repository.ErrVersionConflict),
		errors.Is(err, repository.ErrProductAlreadyExists),
		errors.Is(err, repository.ErrUserAlreadyExists):
		return fiber.StatusConflict, err.Error()
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}

func respond(c *fiber.Ctx, status int, message any) error {
	return c.Status(status).JSON(ErrorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     fiberutils.StatusMessage(status),
		Message:   message,
		Path:      c.Path(),
	})
}

func respondError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	status, message := errorStatus(err)

	ctx := c.UserContext()
	if status >= fiber.StatusInternalServerError {
		mylogger.Error(ctx, logger, op+" failed", zap.Int("http_status", status), zap.Error(err))
	} else {
		mylogger.Warn(ctx, logger, op+" rejected", zap.Int("http_status", status), zap.Error(err))
	}

	return c.Status(status).JSON(ErrorResponse{
		Timestamp:  time.Now().UTC(),
		Status:     status,
		Error:      fiberutils.StatusMessage(status),
		Message:    message,
		Path:       c.Path(),
		ProductIDs: service.OffendingProducts(err),
	})
}

// ErrorHandler renders errors that escape a handler, such as unknown routes,
// in the same body shape as handled failures.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	return respond(c, code, message)
}

func TooManyRequests(c *fiber.Ctx) error {
	return respond(c, fiber.StatusTooManyRequests, "Too many requests. Try again later.")
}
