package domain

import "time"

// EscalationSource distinguishes matrix-driven escalations from actor-initiated ones.
type EscalationSource string

const (
	EscalationAutomatic EscalationSource = "automatic"
	EscalationManual    EscalationSource = "manual"
)

// NotifyRole names the party notified at an escalation level.
type NotifyRole string

const (
	RoleResolver            NotifyRole = "Resolver"
	RoleTeamLead            NotifyRole = "Team Lead"
	RoleDepartmentHead      NotifyRole = "Department Head"
	RoleDirectorCoordinator NotifyRole = "Director + Coordinator"
)

// MaxEscalationLevel is the top of the matrix.
const MaxEscalationLevel = 4

// EscalationEntry is one entry of the append-only escalation log.
type EscalationEntry struct {
	Level        int              `json:"level"`
	Reason       string           `json:"reason"`
	Trigger      string           `json:"trigger"`
	NotifiedRole NotifyRole       `json:"notified_role"`
	Source       EscalationSource `json:"source"`
	Actor        string           `json:"actor,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// StatusTransition describes one status change applied to a ticket.
type StatusTransition struct {
	From TicketStatus
	To   TicketStatus
	At   time.Time
}
