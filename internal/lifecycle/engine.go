// Package lifecycle validates and applies ticket state transitions. The engine
// is synchronous and performs no I/O: every operation takes a ticket snapshot
// and returns a Result holding the mutated copy plus what changed. Callers
// persist and notify after a successful transition.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/sla"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// DefaultTicketPrefix is used when no prefix is configured.
const DefaultTicketPrefix = "NCC"

// Engine applies lifecycle commands.
type Engine struct {
	evaluator *sla.Evaluator
	prefix    string
	newID     func() string
}

// NewEngine constructs the engine.
func NewEngine(evaluator *sla.Evaluator, ticketPrefix string) *Engine {
	if evaluator == nil {
		evaluator = sla.NewEvaluator(nil)
	}
	prefix := strings.ToUpper(strings.TrimSpace(ticketPrefix))
	if prefix == "" {
		prefix = DefaultTicketPrefix
	}
	return &Engine{evaluator: evaluator, prefix: prefix, newID: uuid.NewString}
}

// Evaluator returns the SLA evaluator used to stamp deadlines.
func (e *Engine) Evaluator() *sla.Evaluator {
	return e.evaluator
}

// Submission is the creation payload delivered by intake.
type Submission struct {
	Category    string
	Priority    string
	Title       string
	Description string
	Department  string
	Channel     domain.Channel
	Location    domain.Location
	Reporter    *domain.Reporter
	Attachments []domain.Attachment
}

// AssignCommand routes a ticket to a resolver.
type AssignCommand struct {
	AssigneeID string
	Department string
	Actor      string
	Remark     string
}

// AdvanceCommand moves a ticket forward through the state machine.
type AdvanceCommand struct {
	Status         domain.TicketStatus
	Remark         string
	ResolutionType domain.ResolutionType
	Actor          string
}

// CloseCommand closes a ticket.
type CloseCommand struct {
	ResolutionType domain.ResolutionType
	Remark         string
	Actor          string
}

// ReopenCommand starts a new lifecycle cycle on a closed ticket.
type ReopenCommand struct {
	Reason string
	Actor  string
}

// UpdateCommand appends to the ticket thread.
type UpdateCommand struct {
	Author     string
	AuthorType domain.UpdateAuthorType
	Message    string
}

// EscalateCommand raises the escalation level.
type EscalateCommand struct {
	Level   int
	Role    domain.NotifyRole
	Reason  string
	Trigger string
	Source  domain.EscalationSource
	Actor   string
}

// Result is the outcome of a successful command.
type Result struct {
	Ticket           *domain.Ticket
	Transitions      []domain.StatusTransition
	Update           *domain.TicketUpdate
	Escalation       *domain.EscalationEntry
	PreviousAssignee *string
}

// FormatTicketNumber renders the human-readable sequence, e.g. NCC-2025-0501.
func (e *Engine) FormatTicketNumber(year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", e.prefix, year, seq)
}

// Create builds a new OPEN ticket with a stamped deadline.
func (e *Engine) Create(sub Submission, seq int64, now time.Time) (*Result, error) {
	missing := []string{}
	category := strings.TrimSpace(sub.Category)
	title := strings.TrimSpace(sub.Title)
	if category == "" {
		missing = append(missing, "category")
	}
	if title == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(sub.Priority) == "" {
		missing = append(missing, "priority")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidationError("missing required fields", map[string]any{"missing": missing})
	}
	priority, ok := domain.ParseTicketPriority(sub.Priority)
	if !ok {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": sub.Priority})
	}
	channel := domain.ChannelWeb
	if strings.TrimSpace(string(sub.Channel)) != "" {
		if channel, ok = domain.ParseChannel(string(sub.Channel)); !ok {
			return nil, apperrors.NewValidationError("unknown channel", map[string]any{"channel": sub.Channel})
		}
	}
	for i, att := range sub.Attachments {
		if strings.TrimSpace(att.Handle) == "" {
			return nil, apperrors.NewValidationError("attachment handle required", map[string]any{"index": i})
		}
	}

	policy := e.evaluator.Policy().Lookup(category, priority)
	department := strings.TrimSpace(sub.Department)
	if department == "" {
		department = policy.Department
	}

	ticket := &domain.Ticket{
		ID:           e.newID(),
		TicketNumber: e.FormatTicketNumber(now.Year(), seq),
		Category:     policy.Category,
		Department:   department,
		Priority:     priority,
		Channel:      channel,
		Location:     sub.Location,
		Title:        title,
		Description:  strings.TrimSpace(sub.Description),
		Attachments:  append([]domain.Attachment(nil), sub.Attachments...),
		Status:       domain.TicketStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
		SLAStartedAt: now,
		SLADeadline:  now.Add(policy.Duration),
	}
	if sub.Reporter != nil {
		reporter := *sub.Reporter
		ticket.Reporter = &reporter
	}
	return &Result{Ticket: ticket}, nil
}

// Assign routes an OPEN or REOPENED ticket to a resolver.
func (e *Engine) Assign(current *domain.Ticket, cmd AssignCommand, now time.Time) (*Result, error) {
	assignee := strings.TrimSpace(cmd.AssigneeID)
	if assignee == "" {
		return nil, apperrors.NewValidationError("assignee required", nil)
	}
	if current.Status != domain.TicketStatusOpen && current.Status != domain.TicketStatusReopened {
		return nil, invalidTransition(current, domain.TicketStatusAssigned)
	}

	t := current.Clone()
	now = e.stamp(t, now)
	res := &Result{Ticket: t, PreviousAssignee: current.AssigneeID}
	t.AssigneeID = &assignee
	if dept := strings.TrimSpace(cmd.Department); dept != "" {
		t.AssignedDepartment = dept
	} else if t.AssignedDepartment == "" {
		t.AssignedDepartment = t.Department
	}
	res.Transitions = append(res.Transitions, e.setStatus(t, domain.TicketStatusAssigned, now))
	if remark := strings.TrimSpace(cmd.Remark); remark != "" {
		res.Update = e.appendUpdate(t, actorOr(cmd.Actor), domain.AuthorTypeStaff, remark, now)
	}
	return res, nil
}

// Advance applies a forward status change. Moving to CLOSED delegates to Close.
func (e *Engine) Advance(current *domain.Ticket, cmd AdvanceCommand, now time.Time) (*Result, error) {
	if !cmd.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": cmd.Status})
	}
	switch cmd.Status {
	case domain.TicketStatusClosed:
		return e.Close(current, CloseCommand{ResolutionType: cmd.ResolutionType, Remark: cmd.Remark, Actor: cmd.Actor}, now)
	case domain.TicketStatusAssigned, domain.TicketStatusReopened:
		return nil, apperrors.NewInvalidTransition(
			fmt.Sprintf("%s is entered through its dedicated operation", cmd.Status),
			map[string]any{"from": current.Status, "to": cmd.Status},
		)
	}
	if !CanTransition(current.Status, cmd.Status) {
		return nil, invalidTransition(current, cmd.Status)
	}

	t := current.Clone()
	now = e.stamp(t, now)
	res := &Result{Ticket: t}
	res.Transitions = append(res.Transitions, e.setStatus(t, cmd.Status, now))
	if remark := strings.TrimSpace(cmd.Remark); remark != "" {
		res.Update = e.appendUpdate(t, actorOr(cmd.Actor), domain.AuthorTypeStaff, remark, now)
	}
	return res, nil
}

// Close ends the current cycle and stops the SLA clock.
func (e *Engine) Close(current *domain.Ticket, cmd CloseCommand, now time.Time) (*Result, error) {
	if current.Status == domain.TicketStatusClosed {
		return nil, invalidTransition(current, domain.TicketStatusClosed)
	}
	remark := strings.TrimSpace(cmd.Remark)
	if remark == "" {
		return nil, apperrors.NewValidationError("remark required to close a ticket", nil)
	}
	resolution, ok := domain.ParseResolutionType(string(cmd.ResolutionType))
	if !ok {
		return nil, apperrors.NewValidationError("resolution type must be one of RESOLVED, CANNOT_RESOLVE, DUPLICATE, INVALID",
			map[string]any{"resolution_type": cmd.ResolutionType})
	}

	t := current.Clone()
	now = e.stamp(t, now)
	met := e.evaluator.Remaining(t, now) >= 0
	res := &Result{Ticket: t}
	res.Transitions = append(res.Transitions, e.setStatus(t, domain.TicketStatusClosed, now))
	closedAt := now
	t.ClosedAt = &closedAt
	t.ResolutionType = resolution
	t.SLAMetAtClose = &met
	res.Update = e.appendUpdate(t, actorOr(cmd.Actor), domain.AuthorTypeStaff, remark, now)
	return res, nil
}

// Reopen starts a fresh cycle: new deadline from now, escalation reset.
func (e *Engine) Reopen(current *domain.Ticket, cmd ReopenCommand, now time.Time) (*Result, error) {
	if current.Status != domain.TicketStatusClosed {
		return nil, invalidTransition(current, domain.TicketStatusReopened)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("reason required to reopen a ticket", nil)
	}

	t := current.Clone()
	now = e.stamp(t, now)
	res := &Result{Ticket: t}
	res.Transitions = append(res.Transitions, e.setStatus(t, domain.TicketStatusReopened, now))
	t.ClosedAt = nil
	t.SLAMetAtClose = nil
	t.ResolutionType = ""
	t.ReopenCount++
	t.EscalationLevel = 0
	t.PausedAt = nil
	t.PausedDuration = 0
	t.SLAStartedAt = now
	t.SLADeadline = e.evaluator.StampDeadline(now, t.Category, t.Priority)

	author := strings.TrimSpace(cmd.Actor)
	if author == "" && t.Reporter != nil {
		author = t.Reporter.Name
	}
	if author == "" {
		author = "citizen"
	}
	res.Update = e.appendUpdate(t, author, domain.AuthorTypeCitizen, reason, now)

	if t.Assigned() {
		res.Transitions = append(res.Transitions, e.setStatus(t, domain.TicketStatusAssigned, now))
	}
	return res, nil
}

// AddUpdate appends to the thread. Closed tickets only accept staff updates.
func (e *Engine) AddUpdate(current *domain.Ticket, cmd UpdateCommand, now time.Time) (*Result, error) {
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		return nil, apperrors.NewValidationError("message required", nil)
	}
	authorType, ok := domain.ParseAuthorType(string(cmd.AuthorType))
	if !ok {
		return nil, apperrors.NewValidationError("author type must be CITIZEN or STAFF", map[string]any{"author_type": cmd.AuthorType})
	}
	if current.Status == domain.TicketStatusClosed && authorType == domain.AuthorTypeCitizen {
		return nil, apperrors.NewTicketClosed("ticket is closed; reopen it to add updates",
			map[string]any{"ticket_id": current.ID})
	}

	t := current.Clone()
	now = e.stamp(t, now)
	author := strings.TrimSpace(cmd.Author)
	if author == "" {
		author = strings.ToLower(string(authorType))
	}
	return &Result{Ticket: t, Update: e.appendUpdate(t, author, authorType, message, now)}, nil
}

// Escalate raises the escalation level and appends exactly one log entry.
func (e *Engine) Escalate(current *domain.Ticket, cmd EscalateCommand, now time.Time) (*Result, error) {
	if current.Status == domain.TicketStatusClosed {
		return nil, apperrors.NewInvalidTransition("closed tickets cannot be escalated", map[string]any{"ticket_id": current.ID})
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("escalation reason required", nil)
	}
	if cmd.Level < 1 || cmd.Level > domain.MaxEscalationLevel {
		return nil, apperrors.NewValidationError("escalation level out of range",
			map[string]any{"level": cmd.Level, "max": domain.MaxEscalationLevel})
	}
	if cmd.Level <= current.EscalationLevel {
		return nil, apperrors.NewValidationError("escalation level must exceed the current level",
			map[string]any{"level": cmd.Level, "current_level": current.EscalationLevel})
	}
	if cmd.Role == "" {
		return nil, apperrors.NewValidationError("notified role required", nil)
	}
	source := cmd.Source
	if source == "" {
		source = domain.EscalationAutomatic
	}

	t := current.Clone()
	now = e.stamp(t, now)
	entry := domain.EscalationEntry{
		Level:        cmd.Level,
		Reason:       reason,
		Trigger:      cmd.Trigger,
		NotifiedRole: cmd.Role,
		Source:       source,
		Actor:        strings.TrimSpace(cmd.Actor),
		CreatedAt:    now,
	}
	t.EscalationLevel = cmd.Level
	t.EscalationLog = append(t.EscalationLog, entry)
	return &Result{Ticket: t, Escalation: &entry}, nil
}

// setStatus moves t to next, folding any AwaitingResponse pause into the deadline.
func (e *Engine) setStatus(t *domain.Ticket, next domain.TicketStatus, now time.Time) domain.StatusTransition {
	transition := domain.StatusTransition{From: t.Status, To: next, At: now}
	if t.Status == domain.TicketStatusAwaitingResponse && t.PausedAt != nil {
		if paused := now.Sub(*t.PausedAt); paused > 0 {
			t.PausedDuration += paused
			t.SLADeadline = t.SLADeadline.Add(paused)
		}
		t.PausedAt = nil
	}
	if next == domain.TicketStatusAwaitingResponse {
		pausedAt := now
		t.PausedAt = &pausedAt
	}
	t.Status = next
	return transition
}

func (e *Engine) appendUpdate(t *domain.Ticket, author string, authorType domain.UpdateAuthorType, message string, now time.Time) *domain.TicketUpdate {
	update := domain.TicketUpdate{
		ID:         e.newID(),
		Author:     author,
		AuthorType: authorType,
		Message:    message,
		CreatedAt:  now,
	}
	t.Updates = append(t.Updates, update)
	return &update
}

// stamp keeps updatedAt non-decreasing even if the injected clock goes backwards.
func (e *Engine) stamp(t *domain.Ticket, now time.Time) time.Time {
	if now.Before(t.UpdatedAt) {
		now = t.UpdatedAt
	}
	t.UpdatedAt = now
	return now
}

func invalidTransition(t *domain.Ticket, to domain.TicketStatus) error {
	return apperrors.NewInvalidTransition(
		fmt.Sprintf("cannot move ticket from %s to %s", t.Status, to),
		map[string]any{"ticket_id": t.ID, "from": t.Status, "to": to},
	)
}

func actorOr(actor string) string {
	if a := strings.TrimSpace(actor); a != "" {
		return a
	}
	return "staff"
}
