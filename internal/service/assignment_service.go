package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// AssignmentService routes tickets to resolvers.
type AssignmentService struct {
	tickets *TicketService
}

// NewAssignmentService creates the service on top of the ticket service's
// commit path.
func NewAssignmentService(tickets *TicketService) *AssignmentService {
	return &AssignmentService{tickets: tickets}
}

// AssignTicket assigns an OPEN or REOPENED ticket. Of two concurrent
// assignments against the same version exactly one succeeds; the other gets
// ErrConcurrentModification.
func (s *AssignmentService) AssignTicket(ctx context.Context, ref string, cmd lifecycle.AssignCommand) (*domain.Ticket, error) {
	t := s.tickets
	ticket, err := t.run(ctx, ref, staffActor(cmd.Actor), func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error) {
		return t.engine.Assign(current, cmd, now)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConcurrentModification) {
			t.logger.Info("assignment lost a concurrent update",
				zap.String("ticket_ref", ref),
				zap.String("assignee_id", cmd.AssigneeID))
		}
		return nil, err
	}
	return ticket, nil
}
