package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/escalation"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// EscalationService applies the escalation matrix to stored tickets.
type EscalationService struct {
	tickets *TicketService
	matrix  *escalation.Engine
}

// EscalationOutcome describes one applied escalation.
type EscalationOutcome struct {
	TicketID     string            `json:"ticket_id"`
	TicketNumber string            `json:"ticket_number"`
	FromLevel    int               `json:"from_level"`
	Level        int               `json:"level"`
	Role         domain.NotifyRole `json:"notified_role"`
	Trigger      string            `json:"trigger"`
	Reason       string            `json:"reason"`
}

// ScanReport summarises one pass over the active tickets.
type ScanReport struct {
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Scanned     int                 `json:"scanned"`
	Escalated   int                 `json:"escalated"`
	Failed      int                 `json:"failed"`
	Interrupted bool                `json:"interrupted"`
	Escalations []EscalationOutcome `json:"escalations"`
}

// NewEscalationService wires the escalation engine to the ticket commit path.
func NewEscalationService(tickets *TicketService, engine *escalation.Engine) *EscalationService {
	if engine == nil {
		engine = escalation.NewEngine(nil, tickets.engine.Evaluator())
	}
	return &EscalationService{tickets: tickets, matrix: engine}
}

// Scan evaluates every active ticket once. Cancellation is honoured between
// tickets; escalations committed before it stay, and the report is marked
// Interrupted. Per-ticket failures are logged and counted, not returned.
func (s *EscalationService) Scan(ctx context.Context) (ScanReport, error) {
	t := s.tickets
	report := ScanReport{StartedAt: t.clock.Now(), Escalations: []EscalationOutcome{}}
	defer func() {
		report.FinishedAt = t.clock.Now()
		t.metrics.ObserveScan(report.FinishedAt.Sub(report.StartedAt), report.Scanned, report.Failed)
	}()

	active, err := t.tickets.ListWithFilter(ctx, repository.TicketFilter{Statuses: repository.ActiveStatuses})
	if err != nil {
		return report, apperrors.MapError(err)
	}

	for _, ticket := range active {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		report.Scanned++
		if _, due := s.matrix.Evaluate(ticket, t.clock.Now()); !due {
			continue
		}
		outcome, err := s.escalateWithRetry(ctx, ticket.ID)
		if err != nil {
			report.Failed++
			t.logger.Warn("escalation failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("ticket_number", ticket.TicketNumber),
				zap.Error(err))
			continue
		}
		if outcome != nil {
			report.Escalated++
			report.Escalations = append(report.Escalations, *outcome)
		}
	}

	t.logger.Info("escalation scan finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("escalated", report.Escalated),
		zap.Int("failed", report.Failed),
		zap.Bool("interrupted", report.Interrupted))
	return report, nil
}

// EvaluateTicket runs the matrix against one ticket and commits the result.
// The outcome is nil when no escalation was due.
func (s *EscalationService) EvaluateTicket(ctx context.Context, ref string) (*EscalationOutcome, error) {
	id, err := s.tickets.resolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	outcome, err := s.escalateWithRetry(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return outcome, nil
}

// ManualEscalate raises a ticket to level on an actor's request.
func (s *EscalationService) ManualEscalate(ctx context.Context, ref string, level int, reason, actor string) (*domain.Ticket, error) {
	role, ok := s.matrix.Matrix().RoleForLevel(level)
	if !ok || level > domain.MaxEscalationLevel {
		return nil, apperrors.NewValidationError("escalation level out of range",
			map[string]any{"level": level, "max": domain.MaxEscalationLevel})
	}
	t := s.tickets
	return t.run(ctx, ref, staffActor(actor), func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error) {
		return t.engine.Escalate(current, lifecycle.EscalateCommand{
			Level:   level,
			Role:    role,
			Reason:  reason,
			Trigger: "manual",
			Source:  domain.EscalationManual,
			Actor:   strings.TrimSpace(actor),
		}, now)
	})
}

// escalateWithRetry re-reads and retries once when another writer won the
// compare-and-swap.
func (s *EscalationService) escalateWithRetry(ctx context.Context, id string) (*EscalationOutcome, error) {
	outcome, err := s.escalate(ctx, id)
	if errors.Is(err, apperrors.ErrConcurrentModification) {
		s.tickets.logger.Debug("retrying escalation after concurrent update", zap.String("ticket_id", id))
		outcome, err = s.escalate(ctx, id)
	}
	return outcome, err
}

func (s *EscalationService) escalate(ctx context.Context, id string) (*EscalationOutcome, error) {
	var outcome *EscalationOutcome
	_, err := s.tickets.apply(ctx, id, systemActor(), func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error) {
		decision, due := s.matrix.Evaluate(current, now)
		if !due {
			return nil, nil
		}
		res, err := s.tickets.engine.Escalate(current, lifecycle.EscalateCommand{
			Level:   decision.Level,
			Role:    decision.Role,
			Reason:  decision.Reason,
			Trigger: decision.Trigger,
			Source:  domain.EscalationAutomatic,
		}, now)
		if err != nil {
			return nil, err
		}
		outcome = &EscalationOutcome{
			TicketID:     current.ID,
			TicketNumber: current.TicketNumber,
			FromLevel:    current.EscalationLevel,
			Level:        decision.Level,
			Role:         decision.Role,
			Trigger:      decision.Trigger,
			Reason:       decision.Reason,
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
