package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticket-sla-service/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sla-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Tickets     *handlers.TicketsHandler
	Escalations *handlers.EscalationsHandler
	Analytics   *handlers.AnalyticsHandler
	Metrics     *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	tickets := app.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/assign", cfg.Tickets.AssignTicket)
	tickets.Patch("/:id/status", cfg.Tickets.UpdateStatus)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)
	tickets.Post("/:id/reopen", cfg.Tickets.ReopenTicket)
	tickets.Post("/:id/updates", cfg.Tickets.AddUpdate)
	tickets.Post("/:id/escalate", cfg.Tickets.Escalate)
	tickets.Post("/:id/evaluate", cfg.Tickets.Evaluate)
	tickets.Get("/:id/sla", cfg.Tickets.SLA)
	tickets.Get("/:id/history", cfg.Tickets.History)

	app.Post("/escalations/scan", cfg.Escalations.Scan)
	app.Get("/analytics", cfg.Analytics.Report)
}
