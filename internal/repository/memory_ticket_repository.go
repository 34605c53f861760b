package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// MemoryTicketRepository is an in-memory TicketRepository. It stores deep
// copies so callers never share state with the store.
type MemoryTicketRepository struct {
	mu        sync.RWMutex
	tickets   map[string]*domain.Ticket
	byNumber  map[string]string
	sequences map[int]int64
}

// NewMemoryTicketRepository creates an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets:   make(map[string]*domain.Ticket),
		byNumber:  make(map[string]string),
		sequences: make(map[int]int64),
	}
}

func (r *MemoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tickets[ticket.ID]; exists {
		return apperrors.NewValidationError("ticket id already exists", map[string]any{"ticket_id": ticket.ID})
	}
	if _, exists := r.byNumber[ticket.TicketNumber]; exists {
		return apperrors.NewValidationError("ticket number already exists", map[string]any{"ticket_number": ticket.TicketNumber})
	}
	ticket.Version = 1
	r.tickets[ticket.ID] = ticket.Clone()
	r.byNumber[ticket.TicketNumber] = ticket.ID
	return nil
}

func (r *MemoryTicketRepository) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
	}
	if stored.Version != expectedVersion {
		return apperrors.NewConcurrentModification(map[string]any{
			"ticket_id":        ticket.ID,
			"expected_version": expectedVersion,
			"current_version":  stored.Version,
		})
	}
	ticket.Version = expectedVersion + 1
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *MemoryTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return ticket.Clone(), nil
}

func (r *MemoryTicketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	r.mu.RLock()
	id, ok := r.byNumber[number]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_number": number})
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryTicketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	matched := make([]*domain.Ticket, 0, len(r.tickets))
	for _, ticket := range r.tickets {
		if filter.matches(ticket) {
			matched = append(matched, ticket.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.Ticket{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (r *MemoryTicketRepository) NextSequence(ctx context.Context, year int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[year]++
	return r.sequences[year], nil
}

func (f TicketFilter) matches(t *domain.Ticket) bool {
	if len(f.Statuses) > 0 && !containsValue(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !containsValue(f.Priorities, t.Priority) {
		return false
	}
	if f.Category != nil && !strings.EqualFold(*f.Category, t.Category) {
		return false
	}
	if f.Department != nil && *f.Department != t.Department {
		return false
	}
	if f.AssigneeID != nil && (t.AssigneeID == nil || *t.AssigneeID != *f.AssigneeID) {
		return false
	}
	if f.Ward != nil && *f.Ward != t.Location.Ward {
		return false
	}
	if f.Channel != nil && *f.Channel != t.Channel {
		return false
	}
	if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedUntil != nil && !t.CreatedAt.Before(*f.CreatedUntil) {
		return false
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) &&
			!strings.Contains(strings.ToLower(t.TicketNumber), term) {
			return false
		}
	}
	return true
}

func containsValue[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
