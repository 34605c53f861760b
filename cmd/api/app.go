package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-sla-service/internal/api/http"
	"github.com/spec-kit/ticket-sla-service/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sla-service/internal/clock"
	"github.com/spec-kit/ticket-sla-service/internal/config"
	"github.com/spec-kit/ticket-sla-service/internal/escalation"
	"github.com/spec-kit/ticket-sla-service/internal/events"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	"github.com/spec-kit/ticket-sla-service/internal/observability"
	"github.com/spec-kit/ticket-sla-service/internal/persistence"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
	"github.com/spec-kit/ticket-sla-service/internal/service"
	"github.com/spec-kit/ticket-sla-service/internal/sla"
	"github.com/spec-kit/ticket-sla-service/internal/worker"
)

// application holds the wired service graph shared by the commands.
type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	pg      *persistence.Postgres
	redis   *persistence.Redis
	metrics *observability.Metrics

	tickets     *service.TicketService
	assignments *service.AssignmentService
	escalations *service.EscalationService
}

func buildApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	var (
		ticketRepo  repository.TicketRepository
		historyRepo repository.TicketHistoryRepository
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.pg = pg
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				pg.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		ticketRepo = repository.NewTicketRepository(pg.PoolHandle())
		historyRepo = repository.NewTicketHistoryRepository(pg.PoolHandle())
	default:
		logger.Info("using in-memory ticket store")
		ticketRepo = repository.NewMemoryTicketRepository()
		historyRepo = repository.NewMemoryTicketHistoryRepository()
	}

	policy, err := sla.LoadPolicyFile(cfg.SLA.PolicyFile)
	if err != nil {
		app.Close()
		return nil, err
	}
	matrix, err := escalation.LoadMatrixFile(cfg.SLA.PolicyFile)
	if err != nil {
		app.Close()
		return nil, err
	}
	evaluator := sla.NewEvaluator(policy)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = observability.NewMetrics(registry)

	dispatcher := events.NewInMemoryDispatcher()
	app.redis = persistence.NewRedis(ctx, cfg.Redis, logger)
	var forwarder *events.RedisForwarder
	if app.redis.Enabled() {
		forwarder = events.NewRedisForwarder(app.redis.Client, cfg.Notification.RedisChannel)
	}
	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification, forwarder)
	worker.StartNotificationWorker(dispatcher, notifications, service.NewHistoryRecorder(historyRepo, logger))

	app.tickets = service.NewTicketService(service.Dependencies{
		TicketRepo:  ticketRepo,
		HistoryRepo: historyRepo,
		Engine:      lifecycle.NewEngine(evaluator, cfg.SLA.TicketPrefix),
		Clock:       clock.System{},
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     app.metrics,
	})
	app.assignments = service.NewAssignmentService(app.tickets)
	app.escalations = service.NewEscalationService(app.tickets, escalation.NewEngine(matrix, evaluator))
	return app, nil
}

func (a *application) httpServer() *fiber.App {
	deps := map[string]handlers.Pinger{}
	if a.pg != nil {
		deps["postgres"] = a.pg
	}
	if a.redis.Enabled() {
		deps["redis"] = a.redis
	}

	return httptransport.NewApp(a.cfg.App.Name, a.logger, a.cfg.App.RequestTimeout(), httptransport.RouteConfig{
		Health:      handlers.NewHealthHandler(a.cfg.App.Name, a.cfg.App.Version, a.cfg.Store.Driver, deps),
		Tickets:     handlers.NewTicketsHandler(a.tickets, a.assignments, a.escalations),
		Escalations: handlers.NewEscalationsHandler(a.escalations),
		Analytics:   handlers.NewAnalyticsHandler(a.tickets),
		Metrics:     a.metrics,
	})
}

// Close releases the store and broker connections.
func (a *application) Close() {
	a.redis.Close()
	if a.pg != nil {
		a.pg.Close()
	}
}
