package handlers

import (
	"strconv"

	"github.com/ems-dashboard/backend/internal/http/dto"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/ems-dashboard/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditHandler struct {
	audit *services.AuditLogger
	log   *zap.Logger
}

func NewAuditHandler(audit *services.AuditLogger, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	filter := repositories.AuditFilter{
		Limit:  50,
		Action: optionalQuery(c, "action"),
	}

	if v := c.Query("operator_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid operator_id")
		}
		filter.OperatorID = &id
	}
	if v := c.Query("subject_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid subject_id")
		}
		filter.SubjectID = &id
	}
	if v := c.Query("since"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return badRequest(c, "invalid since")
		}
		filter.Since = &t
	}
	if v := c.Query("until"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return badRequest(c, "invalid until")
		}
		filter.Until = &t
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	entries, err := h.audit.Query(c.Context(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ListResponse{OK: true, Data: entries, Count: len(entries)})
}
