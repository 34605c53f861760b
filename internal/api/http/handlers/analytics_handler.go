package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sla-service/internal/analytics"
	"github.com/spec-kit/ticket-sla-service/internal/service"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// AnalyticsHandler serves period KPIs.
type AnalyticsHandler struct {
	tickets *service.TicketService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(tickets *service.TicketService) *AnalyticsHandler {
	return &AnalyticsHandler{tickets: tickets}
}

// Report GET /analytics?from=&to=&dimension=.
func (h *AnalyticsHandler) Report(c *fiber.Ctx) error {
	dimension, err := analytics.ParseDimension(c.Query("dimension"))
	if err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"dimension": c.Query("dimension")})
	}
	q := analytics.Query{Dimension: dimension}
	from, err := parseTime("from", c.Query("from"))
	if err != nil {
		return err
	}
	if from != nil {
		q.From = *from
	}
	to, err := parseTime("to", c.Query("to"))
	if err != nil {
		return err
	}
	if to != nil {
		q.To = *to
	}

	report, err := h.tickets.Analytics(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}
