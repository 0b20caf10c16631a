package handlers

import (
	"strconv"

	"github.com/ems-dashboard/backend/internal/http/dto"
	"github.com/ems-dashboard/backend/internal/middleware"
	"github.com/ems-dashboard/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ConsentHandler struct {
	consents *services.ConsentService
	query    *services.LocationQueryService
	log      *zap.Logger
}

func NewConsentHandler(consents *services.ConsentService, query *services.LocationQueryService, log *zap.Logger) *ConsentHandler {
	return &ConsentHandler{consents: consents, query: query, log: log}
}

func (h *ConsentHandler) GetMyConsent(c *fiber.Ctx) error {
	consent, err := h.consents.GetConsent(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: consent})
}

// SetMyConsent only ever changes the caller's own record.
func (h *ConsentHandler) SetMyConsent(c *fiber.Ctx) error {
	var req dto.SetConsentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.HasConsent == nil {
		return badRequest(c, "has_consent is required")
	}

	consent, err := h.consents.SetConsent(c.Context(), middleware.GetUserID(c), *req.HasConsent, req.ConsentLevel)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: consent})
}

func (h *ConsentHandler) ListConsents(c *fiber.Ctx) error {
	filter := services.ConsentOverviewFilter{
		Team:  optionalQuery(c, "team"),
		Role:  optionalQuery(c, "role"),
		Level: optionalQuery(c, "level"),
	}
	if v := c.Query("has_consent"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "has_consent must be true or false")
		}
		filter.HasConsent = &b
	}

	records, summary, err := h.query.ConsentOverview(c.Context(), operatorFrom(c), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ConsentOverviewResponse{OK: true, Data: records, Summary: summary})
}
