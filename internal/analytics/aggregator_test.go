package analytics

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
)

var day = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	id          string
	created     time.Duration
	status      domain.TicketStatus
	department  string
	ward        string
	channel     domain.Channel
	met         *bool
	closedAfter time.Duration
	reopens     int
	level       int
}

func boolPtr(v bool) *bool { return &v }

func build(fixtures []fixture) []*domain.Ticket {
	out := make([]*domain.Ticket, 0, len(fixtures))
	for _, f := range fixtures {
		created := day.Add(f.created)
		t := &domain.Ticket{
			ID:              f.id,
			Status:          f.status,
			Department:      f.department,
			Priority:        domain.TicketPriorityMedium,
			Channel:         f.channel,
			Location:        domain.Location{Ward: f.ward},
			CreatedAt:       created,
			SLAStartedAt:    created,
			SLAMetAtClose:   f.met,
			ReopenCount:     f.reopens,
			EscalationLevel: f.level,
		}
		if f.status == domain.TicketStatusClosed {
			closed := created.Add(f.closedAfter)
			t.ClosedAt = &closed
		}
		out = append(out, t)
	}
	return out
}

func sample() []*domain.Ticket {
	return build([]fixture{
		{id: "a", created: time.Hour, status: domain.TicketStatusClosed, department: "Roads", ward: "Central", channel: domain.ChannelWeb, met: boolPtr(true), closedAfter: 10 * time.Hour},
		{id: "b", created: 2 * time.Hour, status: domain.TicketStatusClosed, department: "Roads", ward: "East", channel: domain.ChannelSMS, met: boolPtr(false), closedAfter: 30 * time.Hour, level: 2},
		{id: "c", created: 3 * time.Hour, status: domain.TicketStatusInProgress, department: "Water", ward: "Central", channel: domain.ChannelWeb, reopens: 2},
		{id: "d", created: 4 * time.Hour, status: domain.TicketStatusOpen, department: "Water", ward: "East", channel: domain.ChannelUSSD},
		{id: "e", created: 48 * time.Hour, status: domain.TicketStatusClosed, department: "Roads", ward: "Central", channel: domain.ChannelWeb, met: boolPtr(true), closedAfter: 5 * time.Hour, reopens: 1},
	})
}

func TestAggregateKPIs(t *testing.T) {
	report := Aggregate(sample(), Query{})

	k := report.KPIs
	assert.Equal(t, 5, k.Total)
	assert.Equal(t, 3, k.Closed)
	assert.InDelta(t, 0.6, k.CompletionRate, 1e-9)
	assert.Equal(t, 2, k.ClosedWithinSLA)
	assert.InDelta(t, 2.0/3.0, k.SLAAchievement, 1e-9)
	assert.Equal(t, 2, k.Reopened)
	assert.Equal(t, 3, k.ReopenCount)
	assert.InDelta(t, 0.4, k.ReopenRate, 1e-9)
	assert.Equal(t, 1, k.Escalated)
	assert.InDelta(t, 15.0, k.MeanResolutionHours, 1e-9)

	assert.Equal(t, map[string]int{"CLOSED": 3, "IN_PROGRESS": 1, "OPEN": 1}, report.ByStatus)
	assert.Equal(t, map[string]int{"Roads": 3, "Water": 2}, report.ByDepartment)
	assert.Equal(t, map[string]int{"WEB": 3, "SMS": 1, "USSD": 1}, report.ByChannel)
}

func TestAggregateWindowIsHalfOpen(t *testing.T) {
	report := Aggregate(sample(), Query{From: day.Add(2 * time.Hour), To: day.Add(48 * time.Hour)})
	assert.Equal(t, 3, report.KPIs.Total, "b, c, d are inside; e starts exactly at To")
	assert.Equal(t, 1, report.KPIs.Closed)
	require.NotNil(t, report.From)
	require.NotNil(t, report.To)
}

func TestAggregateEmptyHasZeroRatios(t *testing.T) {
	report := Aggregate(nil, Query{})
	assert.Zero(t, report.KPIs.Total)
	assert.Zero(t, report.KPIs.CompletionRate)
	assert.Zero(t, report.KPIs.SLAAchievement)
	assert.Zero(t, report.KPIs.ReopenRate)

	openOnly := build([]fixture{{id: "x", status: domain.TicketStatusOpen}})
	report = Aggregate(openOnly, Query{})
	assert.Equal(t, 1, report.KPIs.Total)
	assert.Zero(t, report.KPIs.SLAAchievement, "no closed tickets")
}

func TestAggregateGroupsSortedByKey(t *testing.T) {
	report := Aggregate(sample(), Query{Dimension: DimensionWard})
	require.Len(t, report.Groups, 2)
	assert.Equal(t, "Central", report.Groups[0].Key)
	assert.Equal(t, 3, report.Groups[0].Total)
	assert.Equal(t, 2, report.Groups[0].Closed)
	assert.InDelta(t, 1.0, report.Groups[0].SLAAchievement, 1e-9)
	assert.Equal(t, "East", report.Groups[1].Key)
	assert.Equal(t, 2, report.Groups[1].Total)
}

func TestAggregateIsDeterministic(t *testing.T) {
	tickets := sample()
	want := Aggregate(tickets, Query{Dimension: DimensionDepartment})

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]*domain.Ticket(nil), tickets...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Aggregate(shuffled, Query{Dimension: DimensionDepartment})
		assert.Equal(t, want.KPIs.Total, got.KPIs.Total)
		assert.InDelta(t, want.KPIs.MeanResolutionHours, got.KPIs.MeanResolutionHours, 1e-9)
		assert.Equal(t, want.Groups, got.Groups)
		assert.Equal(t, want.ByStatus, got.ByStatus)
	}
}

func TestRatiosStayInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := domain.AllStatuses
	for round := 0; round < 50; round++ {
		var fixtures []fixture
		n := rng.Intn(20)
		for i := 0; i < n; i++ {
			f := fixture{id: string(rune('a' + i)), status: statuses[rng.Intn(len(statuses))], reopens: rng.Intn(3)}
			if f.status == domain.TicketStatusClosed {
				f.met = boolPtr(rng.Intn(2) == 0)
			}
			fixtures = append(fixtures, f)
		}
		k := Aggregate(build(fixtures), Query{}).KPIs
		for _, r := range []float64{k.CompletionRate, k.SLAAchievement, k.ReopenRate} {
			assert.GreaterOrEqual(t, r, 0.0)
			assert.LessOrEqual(t, r, 1.0)
		}
	}
}

func TestParseDimension(t *testing.T) {
	d, err := ParseDimension(" Department ")
	require.NoError(t, err)
	assert.Equal(t, DimensionDepartment, d)

	d, err = ParseDimension("")
	require.NoError(t, err)
	assert.Equal(t, DimensionNone, d)

	_, err = ParseDimension("county")
	assert.Error(t, err)
}
