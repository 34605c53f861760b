package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// TicketFilter captures list/search parameters. Zero values mean "any".
type TicketFilter struct {
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	Category     *string
	Department   *string
	AssigneeID   *string
	Ward         *string
	Channel      *domain.Channel
	SearchTerm   *string
	CreatedFrom  *time.Time
	CreatedUntil *time.Time // exclusive
	Limit        int        // 0 means no limit
	Offset       int
}

// ActiveStatuses are the statuses whose SLA clock can still run.
var ActiveStatuses = []domain.TicketStatus{
	domain.TicketStatusOpen,
	domain.TicketStatusAssigned,
	domain.TicketStatusInProgress,
	domain.TicketStatusAwaitingResponse,
	domain.TicketStatusReopened,
}

// TicketRepository encapsulates ticket persistence. Update is a
// compare-and-swap on Version: it fails with ErrConcurrentModification when
// the stored version differs from expectedVersion, and on success bumps
// ticket.Version.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]*domain.Ticket, error)
	NextSequence(ctx context.Context, year int) (int64, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, ticket_number, category, department, priority, channel, ward, sub_county, zone,
       title, description, attachments, reporter, assignee_id, assigned_department, status, resolution_type,
       created_at, updated_at, sla_started_at, sla_deadline, paused_at, paused_micros, closed_at,
       sla_met_at_close, updates, escalation_level, escalation_log, reopen_count, version`

// ticketDocs holds the JSONB columns of a ticket row.
type ticketDocs struct {
	attachments   []byte
	reporter      []byte
	updates       []byte
	escalationLog []byte
}

func encodeDocs(ticket *domain.Ticket) (ticketDocs, error) {
	var (
		docs ticketDocs
		err  error
	)
	if docs.attachments, err = json.Marshal(nonNil(ticket.Attachments)); err != nil {
		return docs, fmt.Errorf("encode attachments: %w", err)
	}
	if ticket.Reporter != nil {
		if docs.reporter, err = json.Marshal(ticket.Reporter); err != nil {
			return docs, fmt.Errorf("encode reporter: %w", err)
		}
	}
	if docs.updates, err = json.Marshal(nonNil(ticket.Updates)); err != nil {
		return docs, fmt.Errorf("encode updates: %w", err)
	}
	if docs.escalationLog, err = json.Marshal(nonNil(ticket.EscalationLog)); err != nil {
		return docs, fmt.Errorf("encode escalation log: %w", err)
	}
	return docs, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	docs, err := encodeDocs(ticket)
	if err != nil {
		return err
	}
	ticket.Version = 1
	const query = `
        INSERT INTO tickets (id, ticket_number, category, department, priority, channel, ward, sub_county, zone,
            title, description, attachments, reporter, assignee_id, assigned_department, status, resolution_type,
            created_at, updated_at, sla_started_at, sla_deadline, paused_at, paused_micros, closed_at,
            sla_met_at_close, updates, escalation_level, escalation_log, reopen_count, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`
	_, err = r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.TicketNumber,
		ticket.Category,
		ticket.Department,
		ticket.Priority,
		ticket.Channel,
		ticket.Location.Ward,
		ticket.Location.SubCounty,
		ticket.Location.Zone,
		ticket.Title,
		ticket.Description,
		docs.attachments,
		docs.reporter,
		ticket.AssigneeID,
		ticket.AssignedDepartment,
		ticket.Status,
		ticket.ResolutionType,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.SLAStartedAt,
		ticket.SLADeadline,
		ticket.PausedAt,
		ticket.PausedDuration.Microseconds(),
		ticket.ClosedAt,
		ticket.SLAMetAtClose,
		docs.updates,
		ticket.EscalationLevel,
		docs.escalationLog,
		ticket.ReopenCount,
		ticket.Version,
	)
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	docs, err := encodeDocs(ticket)
	if err != nil {
		return err
	}
	const query = `
        UPDATE tickets SET department=$1, assignee_id=$2, assigned_department=$3, status=$4, resolution_type=$5,
            updated_at=$6, sla_started_at=$7, sla_deadline=$8, paused_at=$9, paused_micros=$10, closed_at=$11,
            sla_met_at_close=$12, updates=$13, escalation_level=$14, escalation_log=$15, reopen_count=$16,
            version=version+1
        WHERE id=$17 AND version=$18`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Department,
		ticket.AssigneeID,
		ticket.AssignedDepartment,
		ticket.Status,
		ticket.ResolutionType,
		ticket.UpdatedAt,
		ticket.SLAStartedAt,
		ticket.SLADeadline,
		ticket.PausedAt,
		ticket.PausedDuration.Microseconds(),
		ticket.ClosedAt,
		ticket.SLAMetAtClose,
		docs.updates,
		ticket.EscalationLevel,
		docs.escalationLog,
		ticket.ReopenCount,
		ticket.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
		}
		return apperrors.NewConcurrentModification(map[string]any{"ticket_id": ticket.ID, "expected_version": expectedVersion})
	}
	ticket.Version = expectedVersion + 1
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ticket_number=$1`
	return r.fetchSingle(ctx, query, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"key": arg})
	}
	return ticket, err
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]*domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != nil {
		args = append(args, strings.ToLower(*filter.Category))
		clauses = append(clauses, fmt.Sprintf("LOWER(category)=$%d", len(args)))
	}
	if filter.Department != nil {
		args = append(args, *filter.Department)
		clauses = append(clauses, fmt.Sprintf("department=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if filter.Ward != nil {
		args = append(args, *filter.Ward)
		clauses = append(clauses, fmt.Sprintf("ward=$%d", len(args)))
	}
	if filter.Channel != nil {
		args = append(args, *filter.Channel)
		clauses = append(clauses, fmt.Sprintf("channel=$%d", len(args)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedUntil != nil {
		args = append(args, *filter.CreatedUntil)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR ticket_number ILIKE %s)",
			placeholder, placeholder, placeholder))
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at ASC, id ASC`,
		ticketColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

// NextSequence allocates the next per-year ticket number atomically.
func (r *ticketRepository) NextSequence(ctx context.Context, year int) (int64, error) {
	const query = `
        INSERT INTO ticket_sequences (year, last_value) VALUES ($1, 1)
        ON CONFLICT (year) DO UPDATE SET last_value = ticket_sequences.last_value + 1
        RETURNING last_value`
	var seq int64
	if err := r.pool.QueryRow(ctx, query, year).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket       domain.Ticket
		docs         ticketDocs
		pausedMicros int64
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.Category,
		&ticket.Department,
		&ticket.Priority,
		&ticket.Channel,
		&ticket.Location.Ward,
		&ticket.Location.SubCounty,
		&ticket.Location.Zone,
		&ticket.Title,
		&ticket.Description,
		&docs.attachments,
		&docs.reporter,
		&ticket.AssigneeID,
		&ticket.AssignedDepartment,
		&ticket.Status,
		&ticket.ResolutionType,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.SLAStartedAt,
		&ticket.SLADeadline,
		&ticket.PausedAt,
		&pausedMicros,
		&ticket.ClosedAt,
		&ticket.SLAMetAtClose,
		&docs.updates,
		&ticket.EscalationLevel,
		&docs.escalationLog,
		&ticket.ReopenCount,
		&ticket.Version,
	); err != nil {
		return nil, err
	}
	ticket.PausedDuration = time.Duration(pausedMicros) * time.Microsecond

	if err := decodeDoc(docs.attachments, &ticket.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if len(docs.reporter) > 0 {
		ticket.Reporter = &domain.Reporter{}
		if err := json.Unmarshal(docs.reporter, ticket.Reporter); err != nil {
			return nil, fmt.Errorf("decode reporter: %w", err)
		}
	}
	if err := decodeDoc(docs.updates, &ticket.Updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if err := decodeDoc(docs.escalationLog, &ticket.EscalationLog); err != nil {
		return nil, fmt.Errorf("decode escalation log: %w", err)
	}
	return &ticket, nil
}

func decodeDoc(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
