package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/clock"
	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/events"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	"github.com/spec-kit/ticket-sla-service/internal/observability"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
)

// Dependencies bundles what the ticket-facing services share.
type Dependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Engine      *lifecycle.Engine
	Clock       clock.Clock
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// transitionFunc is a pure lifecycle step. Returning a nil result means there
// is nothing to commit.
type transitionFunc func(current *domain.Ticket, now time.Time) (*lifecycle.Result, error)

// committer implements read snapshot -> apply -> compare-and-swap -> publish.
type committer struct {
	tickets    repository.TicketRepository
	engine     *lifecycle.Engine
	clock      clock.Clock
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func newCommitter(deps Dependencies) committer {
	c := committer{
		tickets:    deps.TicketRepo,
		engine:     deps.Engine,
		clock:      deps.Clock,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if c.engine == nil {
		c.engine = lifecycle.NewEngine(nil, "")
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// apply loads ticketID, runs fn and commits the result against the version
// that was read. A concurrent writer makes the commit fail with
// ErrConcurrentModification; nothing is published in that case.
func (c committer) apply(ctx context.Context, ticketID string, actor events.Actor, fn transitionFunc) (*lifecycle.Result, error) {
	current, err := c.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	res, err := fn(current, c.clock.Now())
	if err != nil || res == nil {
		return nil, err
	}
	if err := c.tickets.Update(ctx, res.Ticket, current.Version); err != nil {
		return nil, err
	}
	c.publishResult(ctx, current, res, actor)
	return res, nil
}

// publishResult emits one event per change carried by res.
func (c committer) publishResult(ctx context.Context, before *domain.Ticket, res *lifecycle.Result, actor events.Actor) {
	t := res.Ticket
	if !sameAssignee(before.AssigneeID, t.AssigneeID) && t.AssigneeID != nil {
		c.publishEvent(ctx, events.Event{
			Type:      events.EventTicketAssigned,
			TicketID:  t.ID,
			Actor:     actor,
			Timestamp: t.UpdatedAt,
			Payload: events.TicketAssignedPayload{
				PreviousAssignee: before.AssigneeID,
				AssigneeID:       *t.AssigneeID,
				Department:       t.AssignedDepartment,
			},
		})
	}
	for _, tr := range res.Transitions {
		c.metrics.RecordTransition(string(tr.From), string(tr.To))
		c.publishEvent(ctx, events.Event{
			Type:      events.EventTicketStatusChanged,
			TicketID:  t.ID,
			Actor:     actor,
			Timestamp: tr.At,
			Payload: events.StatusChangeEvent{
				TicketID:  t.ID,
				OldStatus: tr.From,
				NewStatus: tr.To,
				Timestamp: tr.At,
			},
		})
	}
	if e := res.Escalation; e != nil {
		c.metrics.RecordEscalation(e.Level, string(e.Source))
		c.publishEvent(ctx, events.Event{
			Type:      events.EventTicketEscalated,
			TicketID:  t.ID,
			Actor:     actor,
			Timestamp: e.CreatedAt,
			Payload: events.EscalationEvent{
				TicketID:     t.ID,
				Level:        e.Level,
				NotifiedRole: e.NotifiedRole,
				Reason:       e.Reason,
				Trigger:      e.Trigger,
				Source:       e.Source,
				Timestamp:    e.CreatedAt,
			},
		})
	}
	if u := res.Update; u != nil {
		c.publishEvent(ctx, events.Event{
			Type:      events.EventTicketUpdateAdded,
			TicketID:  t.ID,
			Actor:     actor,
			Timestamp: u.CreatedAt,
			Payload: events.TicketUpdateAddedPayload{
				UpdateID:    u.ID,
				Author:      u.Author,
				AuthorType:  u.AuthorType,
				BodyPreview: stringPreview(u.Message, 120),
			},
		})
	}
}

// publishEvent never fails the caller: the transition is already committed.
func (c committer) publishEvent(ctx context.Context, event events.Event) {
	if c.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.clock.Now()
	}
	if err := c.dispatcher.Publish(ctx, event); err != nil {
		c.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func systemActor() events.Actor {
	return events.Actor{Type: events.ActorSystem}
}

func staffActor(staffID string) events.Actor {
	return events.Actor{Type: events.ActorStaff, ID: strings.TrimSpace(staffID)}
}

func citizenActor(name string) events.Actor {
	return events.Actor{Type: events.ActorCitizen, ID: strings.TrimSpace(name)}
}

func actorForAuthor(authorType domain.UpdateAuthorType, author string) events.Actor {
	if authorType == domain.AuthorTypeCitizen {
		return citizenActor(author)
	}
	return staffActor(author)
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
