package events

import (
	"time"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketEscalated     EventType = "ticket_escalated"
	EventTicketUpdateAdded   EventType = "ticket_update_added"
)

// AllEventTypes lists every event the services publish.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketAssigned,
	EventTicketEscalated,
	EventTicketUpdateAdded,
}

// ActorType distinguishes who caused an event.
type ActorType string

const (
	ActorSystem  ActorType = "system"
	ActorStaff   ActorType = "staff"
	ActorCitizen ActorType = "citizen"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// Event represents a domain event emitted by services after a commit.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketNumber string                `json:"ticket_number"`
	Category     string                `json:"category"`
	Department   string                `json:"department"`
	Priority     domain.TicketPriority `json:"priority"`
	Channel      domain.Channel        `json:"channel"`
	SLADeadline  time.Time             `json:"sla_deadline"`
}

// StatusChangeEvent is emitted once per applied status transition.
type StatusChangeEvent struct {
	TicketID  string              `json:"ticket_id"`
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Timestamp time.Time           `json:"timestamp"`
}

// EscalationEvent is emitted once per escalation log entry.
type EscalationEvent struct {
	TicketID     string                  `json:"ticket_id"`
	Level        int                     `json:"level"`
	NotifiedRole domain.NotifyRole       `json:"notified_role"`
	Reason       string                  `json:"reason"`
	Trigger      string                  `json:"trigger,omitempty"`
	Source       domain.EscalationSource `json:"source"`
	Timestamp    time.Time               `json:"timestamp"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	PreviousAssignee *string `json:"previous_assignee,omitempty"`
	AssigneeID       string  `json:"assignee_id"`
	Department       string  `json:"department"`
}

// TicketUpdateAddedPayload payload.
type TicketUpdateAddedPayload struct {
	UpdateID    string                  `json:"update_id"`
	Author      string                  `json:"author"`
	AuthorType  domain.UpdateAuthorType `json:"author_type"`
	BodyPreview string                  `json:"body_preview"`
}
