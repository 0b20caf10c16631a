package handlers

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ems-dashboard/backend/internal/export"
	"github.com/ems-dashboard/backend/internal/http/dto"
	"github.com/ems-dashboard/backend/internal/middleware"
	"github.com/ems-dashboard/backend/internal/models"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/ems-dashboard/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LocationHandler struct {
	ingestor *services.LocationIngestor
	query    *services.LocationQueryService
	userRepo *repositories.UserRepo
	log      *zap.Logger
}

func NewLocationHandler(ingestor *services.LocationIngestor, query *services.LocationQueryService, userRepo *repositories.UserRepo, log *zap.Logger) *LocationHandler {
	return &LocationHandler{ingestor: ingestor, query: query, userRepo: userRepo, log: log}
}

func (h *LocationHandler) Record(c *fiber.Ctx) error {
	var req dto.RecordLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	raw := services.RawSample{
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.Accuracy,
		Source:         req.Source,
		Timestamp:      req.Timestamp,
	}
	if req.City != "" || req.Region != "" || req.Country != "" {
		raw.Address = &models.Address{City: req.City, Region: req.Region, Country: req.Country}
	}

	sample, err := h.ingestor.Record(c.Context(), middleware.GetUserID(c), raw)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: sample})
}

func (h *LocationHandler) Current(c *fiber.Ctx) error {
	filter := services.CurrentFilter{
		Team:     optionalQuery(c, "team"),
		Role:     optionalQuery(c, "role"),
		Accuracy: optionalQuery(c, "accuracy"),
		Status:   optionalQuery(c, "status"),
	}

	locations, err := h.query.CurrentLocations(c.Context(), operatorFrom(c), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ListResponse{OK: true, Data: locations, Count: len(locations)})
}

func (h *LocationHandler) Timeline(c *fiber.Ctx) error {
	subjectID, start, end, err := timelineParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	samples, err := h.query.Timeline(c.Context(), operatorFrom(c), subjectID, start, end)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ListResponse{OK: true, Data: samples, Count: len(samples)})
}

// Export renders the timeline as CSV. The body is built in memory first so a
// failed render never produces a truncated attachment.
func (h *LocationHandler) Export(c *fiber.Ctx) error {
	subjectID, start, end, err := timelineParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	samples, err := h.query.ExportTimeline(c.Context(), operatorFrom(c), subjectID, start, end)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var buf bytes.Buffer
	if err := export.WriteTimelineCSV(&buf, samples); err != nil {
		return respondError(c, h.log, err)
	}

	name := ""
	if subject, err := h.userRepo.GetByID(c.Context(), subjectID); err == nil {
		name = subject.Name
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, export.TimelineFilename(name, start, end)))
	return c.Send(buf.Bytes())
}

func timelineParams(c *fiber.Ctx) (uuid.UUID, time.Time, time.Time, error) {
	subjectID, err := uuid.Parse(c.Params("subjectId"))
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("invalid subject id")
	}
	start, err := parseDate(c.Query("startDate"))
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("invalid startDate, use YYYY-MM-DD")
	}
	end, err := parseDate(c.Query("endDate"))
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("invalid endDate, use YYYY-MM-DD")
	}
	return subjectID, start, end, nil
}
