package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/events"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
)

// HistoryRecorder turns published events into audit trail entries.
type HistoryRecorder struct {
	history repository.TicketHistoryRepository
	logger  *zap.Logger
}

// NewHistoryRecorder creates the recorder.
func NewHistoryRecorder(history repository.TicketHistoryRepository, logger *zap.Logger) *HistoryRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRecorder{history: history, logger: logger}
}

// RegisterHandlers subscribes the recorder to every ticket event.
func (h *HistoryRecorder) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil || h.history == nil {
		return
	}
	events.SubscribeAll(dispatcher, h.Handle)
}

// Handle records event. Unknown payloads are skipped.
func (h *HistoryRecorder) Handle(ctx context.Context, event events.Event) error {
	entry := &domain.TicketHistory{
		ID:        uuid.NewString(),
		TicketID:  event.TicketID,
		ChangedBy: changedBy(event.Actor),
		CreatedAt: event.Timestamp,
		OldValue:  map[string]any{},
		NewValue:  map[string]any{},
	}

	switch p := event.Payload.(type) {
	case events.TicketCreatedPayload:
		entry.ChangeType = domain.ChangeTypeCreated
		entry.NewValue = map[string]any{
			"ticket_number": p.TicketNumber,
			"priority":      p.Priority,
			"category":      p.Category,
			"department":    p.Department,
			"sla_deadline":  p.SLADeadline,
		}
	case events.StatusChangeEvent:
		entry.ChangeType = domain.ChangeTypeStatus
		entry.OldValue = map[string]any{"status": p.OldStatus}
		entry.NewValue = map[string]any{"status": p.NewStatus}
	case events.TicketAssignedPayload:
		entry.ChangeType = domain.ChangeTypeAssignee
		if p.PreviousAssignee != nil {
			entry.OldValue = map[string]any{"assignee_id": *p.PreviousAssignee}
		}
		entry.NewValue = map[string]any{"assignee_id": p.AssigneeID, "department": p.Department}
	case events.EscalationEvent:
		entry.ChangeType = domain.ChangeTypeEscalation
		entry.NewValue = map[string]any{
			"level":         p.Level,
			"notified_role": p.NotifiedRole,
			"reason":        p.Reason,
			"trigger":       p.Trigger,
			"source":        p.Source,
		}
	case events.TicketUpdateAddedPayload:
		entry.ChangeType = domain.ChangeTypeUpdate
		entry.NewValue = map[string]any{
			"update_id":   p.UpdateID,
			"author":      p.Author,
			"author_type": p.AuthorType,
			"preview":     p.BodyPreview,
		}
	default:
		h.logger.Debug("history: unrecognised payload", zap.String("event_type", string(event.Type)))
		return nil
	}

	if err := h.history.Create(ctx, entry); err != nil {
		return fmt.Errorf("record %s history for %s: %w", event.Type, event.TicketID, err)
	}
	return nil
}

func changedBy(actor events.Actor) string {
	if actor.ID == "" {
		return string(actor.Type)
	}
	return fmt.Sprintf("%s:%s", actor.Type, actor.ID)
}
