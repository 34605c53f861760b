// Package analytics rolls a ticket snapshot up into period KPIs. Aggregation
// is a pure function of the snapshot and the query.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
)

// Dimension selects the optional per-group breakdown.
type Dimension string

const (
	DimensionNone       Dimension = ""
	DimensionDepartment Dimension = "department"
	DimensionWard       Dimension = "ward"
	DimensionChannel    Dimension = "channel"
	DimensionStatus     Dimension = "status"
	DimensionCategory   Dimension = "category"
)

// ParseDimension accepts the dimension names case-insensitively.
func ParseDimension(raw string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case DimensionNone, DimensionDepartment, DimensionWard, DimensionChannel, DimensionStatus, DimensionCategory:
		return d, nil
	}
	return "", fmt.Errorf("unknown dimension %q", raw)
}

// Query bounds the window [From, To) on createdAt. A zero bound is open.
type Query struct {
	From      time.Time
	To        time.Time
	Dimension Dimension
}

// Contains reports whether t falls inside the window.
func (q Query) Contains(t time.Time) bool {
	if !q.From.IsZero() && t.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !t.Before(q.To) {
		return false
	}
	return true
}

// KPIs are the headline figures for a set of tickets.
type KPIs struct {
	Total               int     `json:"total"`
	Closed              int     `json:"closed"`
	CompletionRate      float64 `json:"completion_rate"`
	ClosedWithinSLA     int     `json:"closed_within_sla"`
	SLAAchievement      float64 `json:"sla_achievement"`
	Reopened            int     `json:"reopened"`
	ReopenCount         int     `json:"reopen_count"`
	ReopenRate          float64 `json:"reopen_rate"`
	Escalated           int     `json:"escalated"`
	MeanResolutionHours float64 `json:"mean_resolution_hours"`
}

// Group is the KPI set of one dimension value.
type Group struct {
	Key string `json:"key"`
	KPIs
}

// Report is the aggregator output.
type Report struct {
	From         *time.Time     `json:"from,omitempty"`
	To           *time.Time     `json:"to,omitempty"`
	Dimension    Dimension      `json:"dimension,omitempty"`
	KPIs         KPIs           `json:"kpis"`
	ByStatus     map[string]int `json:"by_status"`
	ByDepartment map[string]int `json:"by_department"`
	ByChannel    map[string]int `json:"by_channel"`
	ByPriority   map[string]int `json:"by_priority"`
	Groups       []Group        `json:"groups,omitempty"`
}

type accumulator struct {
	kpis            KPIs
	resolutionTotal time.Duration
}

func (a *accumulator) add(t *domain.Ticket) {
	a.kpis.Total++
	if t.Status == domain.TicketStatusClosed {
		a.kpis.Closed++
		if t.SLAMetAtClose != nil && *t.SLAMetAtClose {
			a.kpis.ClosedWithinSLA++
		}
		if t.ClosedAt != nil && !t.ClosedAt.Before(t.SLAStartedAt) {
			a.resolutionTotal += t.ClosedAt.Sub(t.SLAStartedAt)
		}
	}
	if t.ReopenCount > 0 {
		a.kpis.Reopened++
		a.kpis.ReopenCount += t.ReopenCount
	}
	if t.EscalationLevel > 0 {
		a.kpis.Escalated++
	}
}

func (a *accumulator) finish() KPIs {
	k := a.kpis
	k.CompletionRate = ratio(k.Closed, k.Total)
	k.SLAAchievement = ratio(k.ClosedWithinSLA, k.Closed)
	k.ReopenRate = ratio(k.Reopened, k.Total)
	if k.Closed > 0 {
		k.MeanResolutionHours = a.resolutionTotal.Hours() / float64(k.Closed)
	}
	return k
}

// Aggregate computes the report for tickets inside q's window. Input order
// does not affect the output.
func Aggregate(tickets []*domain.Ticket, q Query) Report {
	report := Report{
		Dimension:    q.Dimension,
		ByStatus:     make(map[string]int),
		ByDepartment: make(map[string]int),
		ByChannel:    make(map[string]int),
		ByPriority:   make(map[string]int),
	}
	if !q.From.IsZero() {
		from := q.From
		report.From = &from
	}
	if !q.To.IsZero() {
		to := q.To
		report.To = &to
	}

	var overall accumulator
	groups := make(map[string]*accumulator)
	for _, t := range tickets {
		if t == nil || !q.Contains(t.CreatedAt) {
			continue
		}
		overall.add(t)
		report.ByStatus[string(t.Status)]++
		report.ByDepartment[t.Department]++
		report.ByChannel[string(t.Channel)]++
		report.ByPriority[string(t.Priority)]++

		if q.Dimension == DimensionNone {
			continue
		}
		key := groupKey(t, q.Dimension)
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}
		acc.add(t)
	}
	report.KPIs = overall.finish()

	if len(groups) > 0 {
		report.Groups = make([]Group, 0, len(groups))
		for key, acc := range groups {
			report.Groups = append(report.Groups, Group{Key: key, KPIs: acc.finish()})
		}
		sort.Slice(report.Groups, func(i, j int) bool { return report.Groups[i].Key < report.Groups[j].Key })
	}
	return report
}

func groupKey(t *domain.Ticket, d Dimension) string {
	switch d {
	case DimensionDepartment:
		return t.Department
	case DimensionWard:
		return t.Location.Ward
	case DimensionChannel:
		return string(t.Channel)
	case DimensionStatus:
		return string(t.Status)
	case DimensionCategory:
		return t.Category
	}
	return ""
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
