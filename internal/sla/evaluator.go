package sla

import (
	"math"
	"time"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
)

// Evaluation is the numeric SLA state of a ticket at one instant. Display
// formatting is left to callers.
type Evaluation struct {
	Deadline       time.Time
	Remaining      time.Duration
	RemainingHours int
	Overdue        bool
	Paused         bool
}

// Evaluator computes deadlines and overdue state. It holds no mutable state.
type Evaluator struct {
	policy *PolicyTable
}

// NewEvaluator binds an evaluator to a policy table.
func NewEvaluator(policy *PolicyTable) *Evaluator {
	if policy == nil {
		policy = DefaultPolicyTable()
	}
	return &Evaluator{policy: policy}
}

// Policy exposes the table the evaluator stamps deadlines from.
func (e *Evaluator) Policy() *PolicyTable {
	return e.policy
}

// StampDeadline returns start plus the policy duration for the ticket's
// category and priority.
func (e *Evaluator) StampDeadline(start time.Time, category string, priority domain.TicketPriority) time.Time {
	return start.Add(e.policy.Duration(category, priority))
}

// Deadline is the stored deadline extended by any pause still in progress.
// Completed pauses are already folded into SLADeadline by the lifecycle engine.
func (e *Evaluator) Deadline(t *domain.Ticket, now time.Time) time.Time {
	return t.SLADeadline.Add(ongoingPause(t, now))
}

// Remaining is the signed time left before the deadline; negative when overdue.
func (e *Evaluator) Remaining(t *domain.Ticket, now time.Time) time.Duration {
	return e.Deadline(t, now).Sub(now)
}

// RemainingHours expresses Remaining in whole hours, rounded toward negative
// infinity so that any overdue amount yields a negative value.
func (e *Evaluator) RemainingHours(t *domain.Ticket, now time.Time) int {
	return floorHours(e.Remaining(t, now))
}

// IsOverdue reports remaining < 0 for tickets whose SLA clock still runs.
func (e *Evaluator) IsOverdue(t *domain.Ticket, now time.Time) bool {
	if t.Status.SLAStopped() {
		return false
	}
	return e.Remaining(t, now) < 0
}

// OverdueBy returns how far past the deadline the ticket is, or zero.
func (e *Evaluator) OverdueBy(t *domain.Ticket, now time.Time) time.Duration {
	if !e.IsOverdue(t, now) {
		return 0
	}
	return -e.Remaining(t, now)
}

// Evaluate bundles the evaluator outputs for one instant.
func (e *Evaluator) Evaluate(t *domain.Ticket, now time.Time) Evaluation {
	remaining := e.Remaining(t, now)
	return Evaluation{
		Deadline:       e.Deadline(t, now),
		Remaining:      remaining,
		RemainingHours: floorHours(remaining),
		Overdue:        e.IsOverdue(t, now),
		Paused:         t.PausedAt != nil,
	}
}

func ongoingPause(t *domain.Ticket, now time.Time) time.Duration {
	if t.PausedAt == nil || t.Status != domain.TicketStatusAwaitingResponse {
		return 0
	}
	if paused := now.Sub(*t.PausedAt); paused > 0 {
		return paused
	}
	return 0
}

func floorHours(d time.Duration) int {
	return int(math.Floor(d.Hours()))
}
