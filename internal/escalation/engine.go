package escalation

import (
	"fmt"
	"time"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/sla"
)

// Decision is the level a ticket should be at, with the rule that produced it.
type Decision struct {
	Level     int
	Role      domain.NotifyRole
	Reason    string
	Trigger   string
	OverdueBy time.Duration
}

// Engine evaluates tickets against the matrix. It does no I/O.
type Engine struct {
	matrix    *Matrix
	evaluator *sla.Evaluator
}

func NewEngine(matrix *Matrix, evaluator *sla.Evaluator) *Engine {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	if evaluator == nil {
		evaluator = sla.NewEvaluator(nil)
	}
	return &Engine{matrix: matrix, evaluator: evaluator}
}

// Matrix returns the rule set in use.
func (e *Engine) Matrix() *Matrix {
	return e.matrix
}

// Target returns the highest level any rule asks for at now. Level 0 means no
// rule matches.
func (e *Engine) Target(t *domain.Ticket, now time.Time) Decision {
	var best Decision
	if t.Status.SLAStopped() {
		return best
	}

	overdueBy := e.evaluator.OverdueBy(t, now)
	if rule, ok := e.matrix.ruleFor(overdueBy); ok {
		best = Decision{
			Level:     rule.Level,
			Role:      rule.Role,
			Reason:    fmt.Sprintf("SLA breached: overdue by %dh", int(overdueBy/time.Hour)),
			Trigger:   rule.Trigger,
			OverdueBy: overdueBy,
		}
	}

	if crit, ok := e.matrix.CriticalUnassigned(); ok && crit.Level > best.Level {
		if waited := now.Sub(t.SLAStartedAt); t.Priority == domain.TicketPriorityCritical && !t.Assigned() && waited > crit.UnassignedFor {
			best = Decision{
				Level:     crit.Level,
				Role:      crit.Role,
				Reason:    fmt.Sprintf("critical ticket unassigned for %dh", int(waited/time.Hour)),
				Trigger:   crit.Trigger,
				OverdueBy: overdueBy,
			}
		}
	}
	return best
}

// Evaluate returns the decision to apply, if the target level is strictly
// above the ticket's current level. Re-evaluating an already escalated
// ticket at the same instant yields false.
func (e *Engine) Evaluate(t *domain.Ticket, now time.Time) (Decision, bool) {
	d := e.Target(t, now)
	if d.Level == 0 || d.Level <= t.EscalationLevel {
		return d, false
	}
	return d, true
}
