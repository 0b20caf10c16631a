package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/ems-dashboard/backend/internal/http/dto"
	"github.com/ems-dashboard/backend/internal/middleware"
	"github.com/ems-dashboard/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const retryAfterSeconds = "5"

// respondError maps the service error taxonomy onto HTTP. Clients rely on the
// code to tell a permanent denial from a transient failure.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	reqID := middleware.GetRequestID(c)
	resp := dto.ErrorResponse{Error: err.Error(), RequestID: reqID}

	switch {
	case errors.Is(err, services.ErrConsentWithdrawn):
		resp.Error = "consent withdrawn"
		resp.Code = "consent_withdrawn"
		return c.Status(fiber.StatusForbidden).JSON(resp)
	case errors.Is(err, services.ErrPermissionDenied):
		resp.Code = "permission_denied"
		return c.Status(fiber.StatusForbidden).JSON(resp)
	case errors.Is(err, services.ErrValidation):
		resp.Code = "validation_failed"
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	case errors.Is(err, services.ErrTransientStorage):
		log.Warn("transient storage failure", zap.String("request_id", reqID), zap.Error(err))
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
		resp.Error = "storage temporarily unavailable"
		resp.Code = "storage_unavailable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		resp.Error = "request cancelled"
		resp.Code = "cancelled"
		return c.Status(fiber.StatusRequestTimeout).JSON(resp)
	default:
		log.Error("request failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error = "internal error"
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	reqID := middleware.GetRequestID(c)
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Code: "validation_failed", RequestID: reqID})
}

// parseDate accepts a calendar date (YYYY-MM-DD) or an RFC 3339 timestamp. An
// empty value yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func operatorFrom(c *fiber.Ctx) services.Operator {
	return services.Operator{ID: middleware.GetUserID(c), Origin: c.IP()}
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}
