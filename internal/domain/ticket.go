package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen             TicketStatus = "OPEN"
	TicketStatusAssigned         TicketStatus = "ASSIGNED"
	TicketStatusInProgress       TicketStatus = "IN_PROGRESS"
	TicketStatusAwaitingResponse TicketStatus = "AWAITING_RESPONSE"
	TicketStatusResolved         TicketStatus = "RESOLVED"
	TicketStatusClosed           TicketStatus = "CLOSED"
	TicketStatusReopened         TicketStatus = "REOPENED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusAssigned,
	TicketStatusInProgress,
	TicketStatusAwaitingResponse,
	TicketStatusResolved,
	TicketStatusClosed,
	TicketStatusReopened,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range AllStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// SLAStopped reports whether the SLA clock no longer runs for s.
func (s TicketStatus) SLAStopped() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// ParseTicketStatus accepts "InProgress", "in_progress", "IN-PROGRESS" and similar spellings.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	key := normalizeEnum(raw)
	for _, candidate := range AllStatuses {
		if normalizeEnum(string(candidate)) == key {
			return candidate, true
		}
	}
	return "", false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityCritical TicketPriority = "CRITICAL"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityLow      TicketPriority = "LOW"
)

// AllPriorities lists priorities from most to least urgent.
var AllPriorities = []TicketPriority{
	TicketPriorityCritical,
	TicketPriorityHigh,
	TicketPriorityMedium,
	TicketPriorityLow,
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	for _, candidate := range AllPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseTicketPriority is case-insensitive.
func ParseTicketPriority(raw string) (TicketPriority, bool) {
	p := TicketPriority(strings.ToUpper(strings.TrimSpace(raw)))
	return p, p.Valid()
}

// ResolutionType records how a ticket was disposed of when closed.
type ResolutionType string

const (
	ResolutionResolved      ResolutionType = "RESOLVED"
	ResolutionCannotResolve ResolutionType = "CANNOT_RESOLVE"
	ResolutionDuplicate     ResolutionType = "DUPLICATE"
	ResolutionInvalid       ResolutionType = "INVALID"
)

// ParseResolutionType accepts "CannotResolve", "cannot_resolve" and similar spellings.
func ParseResolutionType(raw string) (ResolutionType, bool) {
	key := normalizeEnum(raw)
	for _, candidate := range []ResolutionType{ResolutionResolved, ResolutionCannotResolve, ResolutionDuplicate, ResolutionInvalid} {
		if normalizeEnum(string(candidate)) == key {
			return candidate, true
		}
	}
	return "", false
}

// Channel is the intake channel a ticket was submitted through.
type Channel string

const (
	ChannelWeb    Channel = "WEB"
	ChannelMobile Channel = "MOBILE"
	ChannelUSSD   Channel = "USSD"
	ChannelSMS    Channel = "SMS"
	ChannelVoice  Channel = "VOICE"
	ChannelWalkIn Channel = "WALK_IN"
)

// AllChannels lists the accepted intake channels.
var AllChannels = []Channel{ChannelWeb, ChannelMobile, ChannelUSSD, ChannelSMS, ChannelVoice, ChannelWalkIn}

// ParseChannel accepts "WalkIn", "walk_in", "walk-in" and similar spellings.
func ParseChannel(raw string) (Channel, bool) {
	key := normalizeEnum(raw)
	for _, candidate := range AllChannels {
		if normalizeEnum(string(candidate)) == key {
			return candidate, true
		}
	}
	return "", false
}

// Location holds opaque geography identifiers.
type Location struct {
	Ward      string `json:"ward,omitempty"`
	SubCounty string `json:"sub_county,omitempty"`
	Zone      string `json:"zone,omitempty"`
}

// Reporter identifies the citizen who submitted the ticket.
type Reporter struct {
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Attachment references media owned by an external collaborator.
type Attachment struct {
	Kind   string `json:"kind"`
	Handle string `json:"handle"`
}

// Ticket is the aggregate for reported issues.
type Ticket struct {
	ID                 string
	TicketNumber       string
	Category           string
	Department         string
	Priority           TicketPriority
	Channel            Channel
	Location           Location
	Title              string
	Description        string
	Attachments        []Attachment
	Reporter           *Reporter
	AssigneeID         *string
	AssignedDepartment string
	Status             TicketStatus
	ResolutionType     ResolutionType
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SLAStartedAt       time.Time
	SLADeadline        time.Time
	PausedAt           *time.Time
	PausedDuration     time.Duration
	ClosedAt           *time.Time
	SLAMetAtClose      *bool
	Updates            []TicketUpdate
	EscalationLevel    int
	EscalationLog      []EscalationEntry
	ReopenCount        int
	Version            int64
}

// Assigned reports whether the ticket currently has a resolver.
func (t *Ticket) Assigned() bool {
	return t.AssigneeID != nil && strings.TrimSpace(*t.AssigneeID) != ""
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Attachments = append([]Attachment(nil), t.Attachments...)
	c.Updates = append([]TicketUpdate(nil), t.Updates...)
	c.EscalationLog = append([]EscalationEntry(nil), t.EscalationLog...)
	if t.Reporter != nil {
		r := *t.Reporter
		c.Reporter = &r
	}
	c.AssigneeID = cloneString(t.AssigneeID)
	c.PausedAt = cloneTime(t.PausedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	if t.SLAMetAtClose != nil {
		v := *t.SLAMetAtClose
		c.SLAMetAtClose = &v
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func normalizeEnum(raw string) string {
	r := strings.NewReplacer("_", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(raw)))
}
