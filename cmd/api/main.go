package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-sla-service/internal/config"
	"github.com/spec-kit/ticket-sla-service/internal/observability"
	"github.com/spec-kit/ticket-sla-service/internal/persistence"
	"github.com/spec-kit/ticket-sla-service/internal/worker"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ticket-sla",
		Short:        "Ticket lifecycle and SLA escalation service",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newScanCommand(), newMigrateCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled escalation scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), serve)
		},
	}
}

func newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one escalation scan and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
				app, err := buildApplication(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer app.Close()

				w, err := worker.NewEscalationWorker(app.escalations, cfg.Escalation, logger)
				if err != nil {
					return err
				}
				report, err := w.RunOnce(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the configured Postgres database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
				if cfg.Postgres.DSN == "" {
					return errors.New("POSTGRES_DSN is required to migrate")
				}
				pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer pg.Close()
				return persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger)
			})
		},
	}
}

type runFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error

// withRuntime loads configuration, builds the logger and cancels ctx on
// SIGINT or SIGTERM.
func withRuntime(parent context.Context, run runFunc) error {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return err
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	var scans *worker.EscalationWorker
	if cfg.Escalation.Enabled {
		scans, err = worker.NewEscalationWorker(app.escalations, cfg.Escalation, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("escalation scan disabled")
	}
	server := app.httpServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := server.Listen(cfg.App.Addr()); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	if scans != nil {
		g.Go(func() error {
			return scans.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		grace := cfg.App.RequestTimeout()
		if grace <= 0 {
			grace = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	})

	return g.Wait()
}
