package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sla-service/internal/service"
)

// EscalationsHandler exposes the on-demand full scan.
type EscalationsHandler struct {
	escalations *service.EscalationService
}

// NewEscalationsHandler constructs handler.
func NewEscalationsHandler(escalations *service.EscalationService) *EscalationsHandler {
	return &EscalationsHandler{escalations: escalations}
}

// Scan POST /escalations/scan.
func (h *EscalationsHandler) Scan(c *fiber.Ctx) error {
	report, err := h.escalations.Scan(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}
