package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/analytics"
	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/events"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	committer
	history repository.TicketHistoryRepository
}

// SLAStatus is the live SLA view of a ticket.
type SLAStatus struct {
	TicketID        string
	Status          domain.TicketStatus
	Priority        domain.TicketPriority
	Deadline        time.Time
	Remaining       time.Duration
	RemainingHours  int
	Overdue         bool
	Paused          bool
	EscalationLevel int
	EvaluatedAt     time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps Dependencies) *TicketService {
	return &TicketService{
		committer: newCommitter(deps),
		history:   deps.HistoryRepo,
	}
}

// CreateTicket numbers, stamps and stores a new submission.
func (s *TicketService) CreateTicket(ctx context.Context, sub lifecycle.Submission) (*domain.Ticket, error) {
	now := s.clock.Now()
	seq, err := s.tickets.NextSequence(ctx, now.Year())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	res, err := s.engine.Create(sub, seq, now)
	if err != nil {
		return nil, err
	}
	ticket := res.Ticket
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	actor := events.Actor{Type: events.ActorCitizen}
	if ticket.Reporter != nil {
		actor = citizenActor(ticket.Reporter.Name)
	}
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		Actor:     actor,
		Timestamp: ticket.CreatedAt,
		Payload: events.TicketCreatedPayload{
			TicketNumber: ticket.TicketNumber,
			Category:     ticket.Category,
			Department:   ticket.Department,
			Priority:     ticket.Priority,
			Channel:      ticket.Channel,
			SLADeadline:  ticket.SLADeadline,
		},
	})
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_number", ticket.TicketNumber),
		zap.String("priority", string(ticket.Priority)),
		zap.Time("sla_deadline", ticket.SLADeadline))
	return ticket, nil
}

// GetTicket accepts either the ticket UUID or its human-readable number.
func (s *TicketService) GetTicket(ctx context.Context, ref string) (*domain.Ticket, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperrors.NewValidationError("ticket reference required", nil)
	}
	if _, err := uuid.Parse(ref); err == nil {
		return s.lookup(ctx, ref)
	}
	ticket, err := s.tickets.GetByNumber(ctx, strings.ToUpper(ref))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) lookup(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// resolveID maps a ticket reference onto its UUID.
func (s *TicketService) resolveID(ctx context.Context, ref string) (string, error) {
	if _, err := uuid.Parse(strings.TrimSpace(ref)); err == nil {
		return strings.TrimSpace(ref), nil
	}
	ticket, err := s.GetTicket(ctx, ref)
	if err != nil {
		return "", err
	}
	return ticket.ID, nil
}

// ListTickets returns tickets matching filter ordered by creation time.
func (s *TicketService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]*domain.Ticket, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// UpdateStatus advances a ticket through the state machine.
func (s *TicketService) UpdateStatus(ctx context.Context, ref string, cmd lifecycle.AdvanceCommand) (*domain.Ticket, error) {
	return s.run(ctx, ref, staffActor(cmd.Actor), func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error) {
		return s.engine.Advance(current, cmd, now)
	})
}

// CloseTicket closes a ticket with a resolution and remark.
func (s *TicketService) CloseTicket(ctx context.Context, ref string, cmd lifecycle.CloseCommand) (*domain.Ticket, error) {
	return s.run(ctx, ref, staffActor(cmd.Actor), func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error) {
		return s.engine.Close(current, cmd, now)
	})
}

// ReopenTicket starts a new cycle on a closed ticket at the citizen's request.
func (s *TicketService) ReopenTicket(ctx context.Context, ref string, cmd lifecycle.ReopenCommand) (*domain.Ticket, error) {
	return s.run(ctx, ref, citizenActor(cmd.Actor), func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error) {
		return s.engine.Reopen(current, cmd, now)
	})
}

// AddUpdate appends a message to the ticket thread.
func (s *TicketService) AddUpdate(ctx context.Context, ref string, cmd lifecycle.UpdateCommand) (*domain.TicketUpdate, error) {
	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	res, err := s.apply(ctx, id, actorForAuthor(cmd.AuthorType, cmd.Author), func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error) {
		return s.engine.AddUpdate(current, cmd, now)
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return res.Update, nil
}

// SLAStatus evaluates the ticket's SLA at the current instant.
func (s *TicketService) SLAStatus(ctx context.Context, ref string) (*SLAStatus, error) {
	ticket, err := s.GetTicket(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	eval := s.engine.Evaluator().Evaluate(ticket, now)
	return &SLAStatus{
		TicketID:        ticket.ID,
		Status:          ticket.Status,
		Priority:        ticket.Priority,
		Deadline:        eval.Deadline,
		Remaining:       eval.Remaining,
		RemainingHours:  eval.RemainingHours,
		Overdue:         eval.Overdue,
		Paused:          eval.Paused,
		EscalationLevel: ticket.EscalationLevel,
		EvaluatedAt:     now,
	}, nil
}

// History returns the audit trail of a ticket, oldest first.
func (s *TicketService) History(ctx context.Context, ref string) ([]domain.TicketHistory, error) {
	ticket, err := s.GetTicket(ctx, ref)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// Analytics aggregates KPIs over tickets created inside q's window.
func (s *TicketService) Analytics(ctx context.Context, q analytics.Query) (analytics.Report, error) {
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return analytics.Report{}, apperrors.NewValidationError("from must be before to",
			map[string]any{"from": q.From, "to": q.To})
	}
	filter := repository.TicketFilter{}
	if !q.From.IsZero() {
		from := q.From
		filter.CreatedFrom = &from
	}
	if !q.To.IsZero() {
		to := q.To
		filter.CreatedUntil = &to
	}
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return analytics.Report{}, apperrors.MapError(err)
	}
	return analytics.Aggregate(tickets, q), nil
}

func (s *TicketService) run(ctx context.Context, ref string, actor events.Actor, fn transitionFunc) (*domain.Ticket, error) {
	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	res, err := s.apply(ctx, id, actor, fn)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return res.Ticket, nil
}
