package dto

import (
	"time"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
)

// CreateTicketRequest is the intake submission payload.
type CreateTicketRequest struct {
	Category    string              `json:"category"`
	Priority    string              `json:"priority"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Department  string              `json:"department"`
	Channel     string              `json:"channel"`
	Location    LocationPayload     `json:"location"`
	Reporter    *ReporterPayload    `json:"reporter"`
	Attachments []AttachmentPayload `json:"attachments"`
}

// LocationPayload mirrors domain.Location.
type LocationPayload struct {
	Ward      string `json:"ward"`
	SubCounty string `json:"sub_county"`
	Zone      string `json:"zone"`
}

// ReporterPayload identifies the citizen.
type ReporterPayload struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// AttachmentPayload references externally stored media.
type AttachmentPayload struct {
	Kind   string `json:"kind"`
	Handle string `json:"handle"`
}

// AssignTicketRequest payload.
type AssignTicketRequest struct {
	AssigneeID string `json:"assignee_id"`
	Department string `json:"department"`
	Remark     string `json:"remark"`
	Actor      string `json:"actor"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status         string `json:"status"`
	Remark         string `json:"remark"`
	ResolutionType string `json:"resolution_type"`
	Actor          string `json:"actor"`
}

// CloseTicketRequest payload.
type CloseTicketRequest struct {
	ResolutionType string `json:"resolution_type"`
	Remark         string `json:"remark"`
	Actor          string `json:"actor"`
}

// ReopenTicketRequest payload.
type ReopenTicketRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// AddUpdateRequest payload.
type AddUpdateRequest struct {
	Author     string `json:"author"`
	AuthorType string `json:"author_type"`
	Message    string `json:"message"`
}

// EscalateRequest payload for manual escalation.
type EscalateRequest struct {
	Level  int    `json:"level"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID                 string                   `json:"id"`
	TicketNumber       string                   `json:"ticket_number"`
	Category           string                   `json:"category"`
	Department         string                   `json:"department"`
	Priority           domain.TicketPriority    `json:"priority"`
	Channel            domain.Channel           `json:"channel"`
	Location           domain.Location          `json:"location"`
	Title              string                   `json:"title"`
	Description        string                   `json:"description"`
	Attachments        []domain.Attachment      `json:"attachments"`
	Reporter           *domain.Reporter         `json:"reporter,omitempty"`
	AssigneeID         *string                  `json:"assignee_id"`
	AssignedDepartment string                   `json:"assigned_department,omitempty"`
	Status             domain.TicketStatus      `json:"status"`
	ResolutionType     domain.ResolutionType    `json:"resolution_type,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
	SLAStartedAt       time.Time                `json:"sla_started_at"`
	SLADeadline        time.Time                `json:"sla_deadline"`
	ClosedAt           *time.Time               `json:"closed_at"`
	SLAMetAtClose      *bool                    `json:"sla_met_at_close,omitempty"`
	EscalationLevel    int                      `json:"escalation_level"`
	ReopenCount        int                      `json:"reopen_count"`
	Version            int64                    `json:"version"`
	Updates            []domain.TicketUpdate    `json:"updates"`
	EscalationLog      []domain.EscalationEntry `json:"escalation_log"`
}

// TicketSummary is the list view.
type TicketSummary struct {
	ID              string                `json:"id"`
	TicketNumber    string                `json:"ticket_number"`
	Category        string                `json:"category"`
	Department      string                `json:"department"`
	Title           string                `json:"title"`
	Status          domain.TicketStatus   `json:"status"`
	Priority        domain.TicketPriority `json:"priority"`
	AssigneeID      *string               `json:"assignee_id"`
	SLADeadline     time.Time             `json:"sla_deadline"`
	EscalationLevel int                   `json:"escalation_level"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// SLAStatusResponse is the live SLA view.
type SLAStatusResponse struct {
	TicketID        string              `json:"ticket_id"`
	Status          domain.TicketStatus `json:"status"`
	Deadline        time.Time           `json:"deadline"`
	RemainingHours  int                 `json:"remaining_hours"`
	RemainingSecs   int64               `json:"remaining_seconds"`
	Overdue         bool                `json:"overdue"`
	Paused          bool                `json:"paused"`
	EscalationLevel int                 `json:"escalation_level"`
	EvaluatedAt     time.Time           `json:"evaluated_at"`
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID         string                  `json:"id"`
	ChangeType domain.TicketChangeType `json:"change_type"`
	ChangedBy  string                  `json:"changed_by"`
	OldValue   map[string]any          `json:"old_value"`
	NewValue   map[string]any          `json:"new_value"`
	CreatedAt  time.Time               `json:"created_at"`
}
