package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/sla"
)

var t0 = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

func ticketAt(priority domain.TicketPriority, deadline time.Duration) *domain.Ticket {
	return &domain.Ticket{
		ID:           "t-1",
		Category:     "Pothole",
		Priority:     priority,
		Status:       domain.TicketStatusOpen,
		CreatedAt:    t0,
		UpdatedAt:    t0,
		SLAStartedAt: t0,
		SLADeadline:  t0.Add(deadline),
	}
}

func TestEvaluateOverdueTiers(t *testing.T) {
	engine := NewEngine(nil, sla.NewEvaluator(nil))
	ticket := ticketAt(domain.TicketPriorityHigh, 72*time.Hour)
	assignee := "officer-3"
	ticket.AssigneeID = &assignee
	ticket.Status = domain.TicketStatusInProgress

	tests := []struct {
		name  string
		at    time.Duration
		level int
		role  domain.NotifyRole
	}{
		{"before deadline", 10 * time.Hour, 0, ""},
		{"exactly at deadline", 72 * time.Hour, 0, ""},
		{"just overdue", 72*time.Hour + time.Second, 1, domain.RoleResolver},
		{"overdue 23h", 95 * time.Hour, 1, domain.RoleResolver},
		{"overdue 24h", 96 * time.Hour, 2, domain.RoleTeamLead},
		{"overdue 49h", 121 * time.Hour, 3, domain.RoleDepartmentHead},
		{"overdue 72h", 144 * time.Hour, 4, domain.RoleDirectorCoordinator},
		{"overdue 10 days", 312 * time.Hour, 4, domain.RoleDirectorCoordinator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, apply := engine.Evaluate(ticket, t0.Add(tt.at))
			assert.Equal(t, tt.level, d.Level)
			assert.Equal(t, tt.role, d.Role)
			assert.Equal(t, tt.level > 0, apply)
		})
	}
}

func TestEvaluateOnlyRaisesLevel(t *testing.T) {
	engine := NewEngine(nil, nil)
	ticket := ticketAt(domain.TicketPriorityHigh, 72*time.Hour)
	ticket.EscalationLevel = 2

	_, apply := engine.Evaluate(ticket, t0.Add(80*time.Hour))
	assert.False(t, apply, "level 1 target must not lower level 2")

	_, apply = engine.Evaluate(ticket, t0.Add(96*time.Hour))
	assert.False(t, apply, "same level is not reapplied")

	d, apply := engine.Evaluate(ticket, t0.Add(150*time.Hour))
	require.True(t, apply)
	assert.Equal(t, 4, d.Level, "jumps straight to the highest matching tier")
	assert.Equal(t, "overdue_72h_plus", d.Trigger)
}

func TestCriticalUnassignedRule(t *testing.T) {
	engine := NewEngine(nil, nil)
	// Pothole standard 72h halved for critical
	ticket := ticketAt(domain.TicketPriorityCritical, 36*time.Hour)

	_, apply := engine.Evaluate(ticket, t0.Add(4*time.Hour))
	assert.False(t, apply, "exactly four hours is not more than four hours")

	d, apply := engine.Evaluate(ticket, t0.Add(5*time.Hour))
	require.True(t, apply)
	assert.Equal(t, 3, d.Level)
	assert.Equal(t, domain.RoleDepartmentHead, d.Role)
	assert.Equal(t, "critical_unassigned_4h", d.Trigger)

	assignee := "officer-9"
	ticket.AssigneeID = &assignee
	_, apply = engine.Evaluate(ticket, t0.Add(5*time.Hour))
	assert.False(t, apply)

	high := ticketAt(domain.TicketPriorityHigh, 72*time.Hour)
	_, apply = engine.Evaluate(high, t0.Add(5*time.Hour))
	assert.False(t, apply, "rule only applies to critical tickets")
}

func TestCriticalRuleLosesToHigherOverdueTier(t *testing.T) {
	engine := NewEngine(nil, nil)
	ticket := ticketAt(domain.TicketPriorityCritical, 36*time.Hour)

	d, apply := engine.Evaluate(ticket, t0.Add(36*time.Hour+73*time.Hour))
	require.True(t, apply)
	assert.Equal(t, 4, d.Level)
}

func TestStoppedTicketsNeverEscalate(t *testing.T) {
	engine := NewEngine(nil, nil)
	for _, status := range []domain.TicketStatus{domain.TicketStatusResolved, domain.TicketStatusClosed} {
		ticket := ticketAt(domain.TicketPriorityCritical, 36*time.Hour)
		ticket.Status = status
		_, apply := engine.Evaluate(ticket, t0.Add(500*time.Hour))
		assert.False(t, apply, string(status))
	}
}

func TestPausedTicketDoesNotEscalate(t *testing.T) {
	engine := NewEngine(nil, nil)
	ticket := ticketAt(domain.TicketPriorityHigh, 72*time.Hour)
	ticket.Status = domain.TicketStatusAwaitingResponse
	pausedAt := t0.Add(10 * time.Hour)
	ticket.PausedAt = &pausedAt

	_, apply := engine.Evaluate(ticket, t0.Add(300*time.Hour))
	assert.False(t, apply)
}
