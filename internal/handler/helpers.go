package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-roadmap/internal/middleware"
	"github.com/noah-isme/gema-roadmap/internal/service"
	"github.com/noah-isme/gema-roadmap/internal/utils"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}

// statusForError maps orchestrator and career API errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case isValidationError(err), errors.Is(err, service.ErrInvalidArgument), errors.Is(err, service.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, careerapi.ErrMissingCredential), errors.Is(err, careerapi.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, service.ErrRoadmapNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrNoSelection),
		errors.Is(err, service.ErrRegenerationInProgress),
		errors.Is(err, service.ErrOrderBusy),
		errors.Is(err, service.ErrCourseAlreadyCompleted),
		errors.Is(err, service.ErrPollerRunning),
		errors.Is(err, service.ErrRetryNotAllowed):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrEvidenceTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrEvidenceTypeNotAllowed):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, service.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case service.IsTransient(err):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, logger zerolog.Logger, err error, message string) error {
	status := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		requestLogger(logger, c).Error().Err(err).Int("status", status).Msg(message)
		if status == fiber.StatusInternalServerError {
			return utils.Fail(c, status, message, nil)
		}
		return utils.Fail(c, status, err.Error(), nil)
	}
	if isValidationError(err) {
		return utils.Fail(c, status, "validation failed", validationDetails(err))
	}
	return utils.Fail(c, status, err.Error(), nil)
}
