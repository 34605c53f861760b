package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/analytics"
	"github.com/spec-kit/ticket-sla-service/internal/clock"
	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/escalation"
	"github.com/spec-kit/ticket-sla-service/internal/events"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	"github.com/spec-kit/ticket-sla-service/internal/observability"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
	"github.com/spec-kit/ticket-sla-service/internal/sla"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	clock       *clock.Manual
	store       *repository.MemoryTicketRepository
	history     *repository.MemoryTicketHistoryRepository
	recorder    *events.Recorder
	tickets     *TicketService
	assignments *AssignmentService
	escalations *EscalationService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore lets a test wrap the memory store.
func newHarnessWithStore(t *testing.T, wrap func(repository.TicketRepository) repository.TicketRepository) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewManual(t0),
		store:    repository.NewMemoryTicketRepository(),
		history:  repository.NewMemoryTicketHistoryRepository(),
		recorder: events.NewRecorder(nil),
	}
	var store repository.TicketRepository = h.store
	if wrap != nil {
		store = wrap(store)
	}
	evaluator := sla.NewEvaluator(sla.DefaultPolicyTable())
	h.tickets = NewTicketService(Dependencies{
		TicketRepo:  store,
		HistoryRepo: h.history,
		Engine:      lifecycle.NewEngine(evaluator, "NCC"),
		Clock:       h.clock,
		Dispatcher:  h.recorder,
		Logger:      zap.NewNop(),
		Metrics:     observability.NewMetrics(prometheus.NewRegistry()),
	})
	h.assignments = NewAssignmentService(h.tickets)
	h.escalations = NewEscalationService(h.tickets, escalation.NewEngine(escalation.DefaultMatrix(), evaluator))
	NewHistoryRecorder(h.history, zap.NewNop()).RegisterHandlers(h.recorder)
	return h
}

func (h *harness) create(t *testing.T, priority string) *domain.Ticket {
	t.Helper()
	ticket, err := h.tickets.CreateTicket(context.Background(), lifecycle.Submission{
		Category: "Pothole",
		Priority: priority,
		Title:    "Deep pothole on Moi Avenue",
		Location: domain.Location{Ward: "Central"},
		Reporter: &domain.Reporter{Name: "Amina"},
	})
	require.NoError(t, err)
	return ticket
}

func TestCreateTicketNumbersAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.create(t, "High")
	second := h.create(t, "Low")
	assert.Equal(t, "NCC-2025-0001", first.TicketNumber)
	assert.Equal(t, "NCC-2025-0002", second.TicketNumber)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, t0.Add(72*time.Hour), first.SLADeadline)

	got, err := h.tickets.GetTicket(ctx, "ncc-2025-0002")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	created := h.recorder.Events(events.EventTicketCreated)
	require.Len(t, created, 2)
	assert.Equal(t, events.ActorCitizen, created[0].Actor.Type)

	entries, err := h.tickets.History(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ChangeTypeCreated, entries[0].ChangeType)
}

func TestCreateTicketValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.tickets.CreateTicket(context.Background(), lifecycle.Submission{Category: "Pothole"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, h.recorder.Events())
}

func TestGetTicketNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.tickets.GetTicket(context.Background(), "7f0c4a8e-8a5e-4a53-9d8e-5b7f0f3c9a11")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = h.tickets.GetTicket(context.Background(), "NCC-1999-0001")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestLifecycleThroughServices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "High")

	h.clock.Advance(time.Hour)
	assigned, err := h.assignments.AssignTicket(ctx, ticket.ID, lifecycle.AssignCommand{AssigneeID: "officer-7", Actor: "supervisor-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, assigned.Status)
	assert.Equal(t, int64(2), assigned.Version)

	h.clock.Advance(time.Hour)
	_, err = h.tickets.UpdateStatus(ctx, ticket.TicketNumber, lifecycle.AdvanceCommand{Status: domain.TicketStatusInProgress, Actor: "officer-7"})
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	closed, err := h.tickets.CloseTicket(ctx, ticket.ID, lifecycle.CloseCommand{
		ResolutionType: domain.ResolutionResolved,
		Remark:         "Patched",
		Actor:          "officer-7",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.SLAMetAtClose)
	assert.True(t, *closed.SLAMetAtClose)

	h.clock.Advance(24 * time.Hour)
	reopened, err := h.tickets.ReopenTicket(ctx, ticket.ID, lifecycle.ReopenCommand{Reason: "Pothole is back", Actor: "Amina"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, reopened.Status)
	assert.Equal(t, 1, reopened.ReopenCount)
	assert.Equal(t, h.clock.Now().Add(72*time.Hour), reopened.SLADeadline)

	statusEvents := h.recorder.Events(events.EventTicketStatusChanged)
	var path []domain.TicketStatus
	for _, e := range statusEvents {
		path = append(path, e.Payload.(events.StatusChangeEvent).NewStatus)
	}
	assert.Equal(t, []domain.TicketStatus{
		domain.TicketStatusAssigned,
		domain.TicketStatusInProgress,
		domain.TicketStatusClosed,
		domain.TicketStatusReopened,
		domain.TicketStatusAssigned,
	}, path)
	require.Len(t, h.recorder.Events(events.EventTicketAssigned), 1)

	entries, err := h.tickets.History(ctx, ticket.ID)
	require.NoError(t, err)
	var statusChanges int
	for _, e := range entries {
		if e.ChangeType == domain.ChangeTypeStatus {
			statusChanges++
		}
	}
	assert.Equal(t, 5, statusChanges)
}

func TestInvalidTransitionLeavesTicketUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "High")

	_, err := h.tickets.UpdateStatus(ctx, ticket.ID, lifecycle.AdvanceCommand{Status: domain.TicketStatusAssigned})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	stored, err := h.store.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	assert.Empty(t, h.recorder.Events(events.EventTicketStatusChanged))

	resolved, err := h.tickets.UpdateStatus(ctx, ticket.ID, lifecycle.AdvanceCommand{Status: domain.TicketStatusResolved})
	require.NoError(t, err)
	require.Equal(t, int64(2), resolved.Version)

	_, err = h.tickets.UpdateStatus(ctx, ticket.ID, lifecycle.AdvanceCommand{Status: domain.TicketStatusInProgress})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	stored, err = h.store.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, domain.TicketStatusResolved, stored.Status)
	assert.Len(t, h.recorder.Events(events.EventTicketStatusChanged), 1)
}

func TestCitizenUpdateOnClosedTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "High")
	_, err := h.tickets.CloseTicket(ctx, ticket.ID, lifecycle.CloseCommand{ResolutionType: domain.ResolutionDuplicate, Remark: "dup"})
	require.NoError(t, err)

	_, err = h.tickets.AddUpdate(ctx, ticket.ID, lifecycle.UpdateCommand{Author: "Amina", AuthorType: domain.AuthorTypeCitizen, Message: "still broken"})
	assert.True(t, errors.Is(err, apperrors.ErrTicketClosed))

	update, err := h.tickets.AddUpdate(ctx, ticket.ID, lifecycle.UpdateCommand{Author: "officer-7", AuthorType: domain.AuthorTypeStaff, Message: "noted"})
	require.NoError(t, err)
	assert.Equal(t, "noted", update.Message)

	added := h.recorder.Events(events.EventTicketUpdateAdded)
	require.NotEmpty(t, added)
	assert.Equal(t, events.ActorStaff, added[len(added)-1].Actor.Type)
}

// barrierStore holds every reader until n of them have read, so they all
// observe the same version.
type barrierStore struct {
	repository.TicketRepository
	gate *sync.WaitGroup
}

func (b barrierStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := b.TicketRepository.GetByID(ctx, id)
	b.gate.Done()
	b.gate.Wait()
	return ticket, err
}

func TestConcurrentAssignExactlyOneWins(t *testing.T) {
	gate := &sync.WaitGroup{}
	h := newHarnessWithStore(t, func(inner repository.TicketRepository) repository.TicketRepository {
		return barrierStore{TicketRepository: inner, gate: gate}
	})
	ticket := h.create(t, "High")

	gate.Add(2)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, assignee := range []string{"officer-1", "officer-2"} {
		wg.Add(1)
		go func(i int, assignee string) {
			defer wg.Done()
			_, errs[i] = h.assignments.AssignTicket(context.Background(), ticket.ID, lifecycle.AssignCommand{AssigneeID: assignee})
		}(i, assignee)
	}
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, apperrors.ErrConcurrentModification):
			conflicts++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, conflicts)

	stored, err := h.store.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, h.recorder.Events(events.EventTicketAssigned), 1)
}

func TestScanEscalatesOverdueTicketOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "High")

	h.clock.Set(t0.Add(72*time.Hour + 25*time.Hour))
	report, err := h.escalations.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Escalated)
	require.Len(t, report.Escalations, 1)
	assert.Equal(t, 2, report.Escalations[0].Level)
	assert.Equal(t, domain.RoleTeamLead, report.Escalations[0].Role)
	assert.Equal(t, "overdue_24_48h", report.Escalations[0].Trigger)

	again, err := h.escalations.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Escalated)

	stored, err := h.tickets.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	require.Len(t, stored.EscalationLog, 1)
	assert.Equal(t, domain.EscalationAutomatic, stored.EscalationLog[0].Source)

	escalated := h.recorder.Events(events.EventTicketEscalated)
	require.Len(t, escalated, 1)
	payload := escalated[0].Payload.(events.EscalationEvent)
	assert.Equal(t, 2, payload.Level)
	assert.Equal(t, events.ActorSystem, escalated[0].Actor.Type)

	h.clock.Advance(24 * time.Hour)
	third, err := h.escalations.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Escalated)
	assert.Equal(t, 3, third.Escalations[0].Level)
	assert.Len(t, h.recorder.Events(events.EventTicketEscalated), 2)
}

func TestScanCriticalUnassigned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "Critical")

	h.clock.Set(t0.Add(4 * time.Hour))
	report, err := h.escalations.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Escalated, "exactly four hours is not yet past the threshold")

	h.clock.Set(t0.Add(5 * time.Hour))
	report, err = h.escalations.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Escalated)
	assert.Equal(t, 3, report.Escalations[0].Level)
	assert.Equal(t, domain.RoleDepartmentHead, report.Escalations[0].Role)
	assert.Equal(t, "critical_unassigned_4h", report.Escalations[0].Trigger)

	stored, err := h.tickets.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.EscalationLevel)
}

func TestScanSkipsAssignedCritical(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "Critical")
	_, err := h.assignments.AssignTicket(ctx, ticket.ID, lifecycle.AssignCommand{AssigneeID: "officer-7"})
	require.NoError(t, err)

	h.clock.Set(t0.Add(6 * time.Hour))
	report, err := h.escalations.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Escalated)
}

func TestScanCancelledMidwayKeepsCommittedWork(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.create(t, "High")
	}
	h.clock.Set(t0.Add(80 * time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.recorder.Subscribe(events.EventTicketEscalated, func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	report, err := h.escalations.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Escalated)

	rest, err := h.escalations.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, rest.Interrupted)
	assert.Equal(t, 2, rest.Escalated)

	tickets, err := h.tickets.ListTickets(context.Background(), repository.TicketFilter{})
	require.NoError(t, err)
	for _, ticket := range tickets {
		assert.Equal(t, 1, ticket.EscalationLevel)
		assert.Len(t, ticket.EscalationLog, 1)
	}
}

func TestEvaluateTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "High")

	outcome, err := h.escalations.EvaluateTicket(ctx, ticket.TicketNumber)
	require.NoError(t, err)
	assert.Nil(t, outcome)

	h.clock.Set(t0.Add(72*time.Hour + 73*time.Hour))
	outcome, err = h.escalations.EvaluateTicket(ctx, ticket.TicketNumber)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, 0, outcome.FromLevel)
	assert.Equal(t, 4, outcome.Level)
	assert.Equal(t, domain.RoleDirectorCoordinator, outcome.Role)
}

func TestManualEscalate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "Low")

	escalated, err := h.escalations.ManualEscalate(ctx, ticket.ID, 2, "Councillor complaint", "supervisor-1")
	require.NoError(t, err)
	assert.Equal(t, 2, escalated.EscalationLevel)
	require.Len(t, escalated.EscalationLog, 1)
	entry := escalated.EscalationLog[0]
	assert.Equal(t, domain.EscalationManual, entry.Source)
	assert.Equal(t, domain.RoleTeamLead, entry.NotifiedRole)
	assert.Equal(t, "supervisor-1", entry.Actor)

	_, err = h.escalations.ManualEscalate(ctx, ticket.ID, 2, "again", "supervisor-1")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.escalations.ManualEscalate(ctx, ticket.ID, 3, "  ", "supervisor-1")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.escalations.ManualEscalate(ctx, ticket.ID, 9, "too far", "supervisor-1")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.tickets.CloseTicket(ctx, ticket.ID, lifecycle.CloseCommand{ResolutionType: domain.ResolutionInvalid, Remark: "spam"})
	require.NoError(t, err)
	_, err = h.escalations.ManualEscalate(ctx, ticket.ID, 3, "late", "supervisor-1")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestSLAStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.create(t, "High")

	h.clock.Set(t0.Add(80 * time.Hour))
	status, err := h.tickets.SLAStatus(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, status.Overdue)
	assert.Equal(t, -8, status.RemainingHours)
	assert.Equal(t, t0.Add(72*time.Hour), status.Deadline)
	assert.False(t, status.Paused)
}

func TestAnalyticsThroughService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.create(t, "High")
	h.clock.Advance(48 * time.Hour)
	h.create(t, "Low")

	_, err := h.tickets.CloseTicket(ctx, first.ID, lifecycle.CloseCommand{ResolutionType: domain.ResolutionResolved, Remark: "done"})
	require.NoError(t, err)

	report, err := h.tickets.Analytics(ctx, analytics.Query{From: t0, To: t0.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, report.KPIs.Total)
	assert.Equal(t, 1, report.KPIs.Closed)
	assert.InDelta(t, 1.0, report.KPIs.SLAAchievement, 1e-9)

	_, err = h.tickets.Analytics(ctx, analytics.Query{From: t0, To: t0})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
