package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/config"
	"github.com/spec-kit/ticket-sla-service/internal/service"
)

// Scanner runs one escalation pass.
type Scanner interface {
	Scan(ctx context.Context) (service.ScanReport, error)
}

// EscalationWorker runs the escalation scan on a cron schedule. Overlapping
// runs, including the startup run, are skipped rather than queued.
type EscalationWorker struct {
	scanner      Scanner
	logger       *zap.Logger
	cron         *cron.Cron
	job          cron.Job
	schedule     string
	timeout      time.Duration
	runOnStartup bool

	mu      sync.Mutex
	rootCtx context.Context
	runOnce sync.Once
	startup sync.WaitGroup
}

// NewEscalationWorker validates the schedule and builds the cron engine.
func NewEscalationWorker(scanner Scanner, cfg config.EscalationConfig, logger *zap.Logger) (*EscalationWorker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid escalation schedule %q: %w", cfg.Schedule, err)
	}
	cl := cronLogger{logger: logger.Sugar()}
	engine := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(cl),
	)
	w := &EscalationWorker{
		scanner:      scanner,
		logger:       logger,
		cron:         engine,
		schedule:     cfg.Schedule,
		timeout:      cfg.ScanTimeout(),
		runOnStartup: cfg.RunOnStartup,
		rootCtx:      context.Background(),
	}
	// Scheduled and startup runs share one wrapped job so they share the skip guard.
	w.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(w.tick))
	return w, nil
}

// Run schedules the scan and blocks until ctx is cancelled. In-flight scans
// see the cancellation and stop at the next ticket boundary.
func (w *EscalationWorker) Run(ctx context.Context) error {
	var err error
	w.runOnce.Do(func() {
		w.mu.Lock()
		w.rootCtx = ctx
		w.mu.Unlock()

		if _, err = w.cron.AddJob(w.schedule, w.job); err != nil {
			return
		}
		w.cron.Start()
		w.logger.Info("escalation scheduler started", zap.String("schedule", w.schedule))
		if w.runOnStartup {
			w.startup.Add(1)
			go func() {
				defer w.startup.Done()
				w.job.Run()
			}()
		}
	})
	if err != nil {
		return fmt.Errorf("schedule escalation scan: %w", err)
	}

	<-ctx.Done()
	stopped := w.cron.Stop()
	<-stopped.Done()
	w.startup.Wait()
	w.logger.Info("escalation scheduler stopped")
	return nil
}

// RunOnce executes a single scan bounded by the configured timeout.
func (w *EscalationWorker) RunOnce(ctx context.Context) (service.ScanReport, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.scanner.Scan(ctx)
}

func (w *EscalationWorker) tick() {
	w.mu.Lock()
	ctx := w.rootCtx
	w.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	report, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error("escalation scan failed", zap.Error(err))
		return
	}
	if report.Interrupted {
		w.logger.Warn("escalation scan interrupted",
			zap.Int("scanned", report.Scanned),
			zap.Int("escalated", report.Escalated))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
