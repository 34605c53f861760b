package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sla-service/internal/api/dto"
	"github.com/spec-kit/ticket-sla-service/internal/domain"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
	"github.com/spec-kit/ticket-sla-service/internal/service"
	apperrors "github.com/spec-kit/ticket-sla-service/pkg/util/errorutil"
)

// ActorHeader names the caller when the body does not.
const ActorHeader = "X-Actor-ID"

// TicketsHandler exposes ticket commands and queries.
type TicketsHandler struct {
	tickets     *service.TicketService
	assignments *service.AssignmentService
	escalations *service.EscalationService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, assignments *service.AssignmentService, escalations *service.EscalationService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, assignments: assignments, escalations: escalations}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	sub := lifecycle.Submission{
		Category:    req.Category,
		Priority:    req.Priority,
		Title:       req.Title,
		Description: req.Description,
		Department:  req.Department,
		Channel:     domain.Channel(strings.TrimSpace(req.Channel)),
		Location: domain.Location{
			Ward:      strings.TrimSpace(req.Location.Ward),
			SubCounty: strings.TrimSpace(req.Location.SubCounty),
			Zone:      strings.TrimSpace(req.Location.Zone),
		},
	}
	if req.Reporter != nil {
		sub.Reporter = &domain.Reporter{Name: strings.TrimSpace(req.Reporter.Name), Contact: strings.TrimSpace(req.Reporter.Contact)}
	}
	for _, att := range req.Attachments {
		sub.Attachments = append(sub.Attachments, domain.Attachment{Kind: att.Kind, Handle: att.Handle})
	}

	ticket, err := h.tickets.CreateTicket(c.UserContext(), sub)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for _, t := range tickets {
		items = append(items, ticketSummary(t))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id. The id may be a UUID or a ticket number.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// AssignTicket POST /tickets/:id/assign.
func (h *TicketsHandler) AssignTicket(c *fiber.Ctx) error {
	var req dto.AssignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.assignments.AssignTicket(c.UserContext(), c.Params("id"), lifecycle.AssignCommand{
		AssigneeID: req.AssigneeID,
		Department: req.Department,
		Remark:     req.Remark,
		Actor:      actorFrom(c, req.Actor),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status, ok := domain.ParseTicketStatus(req.Status)
	if !ok {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": req.Status})
	}
	ticket, err := h.tickets.UpdateStatus(c.UserContext(), c.Params("id"), lifecycle.AdvanceCommand{
		Status:         status,
		Remark:         req.Remark,
		ResolutionType: domain.ResolutionType(req.ResolutionType),
		Actor:          actorFrom(c, req.Actor),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// CloseTicket POST /tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	var req dto.CloseTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.CloseTicket(c.UserContext(), c.Params("id"), lifecycle.CloseCommand{
		ResolutionType: domain.ResolutionType(req.ResolutionType),
		Remark:         req.Remark,
		Actor:          actorFrom(c, req.Actor),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ReopenTicket POST /tickets/:id/reopen.
func (h *TicketsHandler) ReopenTicket(c *fiber.Ctx) error {
	var req dto.ReopenTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.ReopenTicket(c.UserContext(), c.Params("id"), lifecycle.ReopenCommand{
		Reason: req.Reason,
		Actor:  actorFrom(c, req.Actor),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// AddUpdate POST /tickets/:id/updates.
func (h *TicketsHandler) AddUpdate(c *fiber.Ctx) error {
	var req dto.AddUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	update, err := h.tickets.AddUpdate(c.UserContext(), c.Params("id"), lifecycle.UpdateCommand{
		Author:     actorFrom(c, req.Author),
		AuthorType: domain.UpdateAuthorType(req.AuthorType),
		Message:    req.Message,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": update})
}

// Escalate POST /tickets/:id/escalate.
func (h *TicketsHandler) Escalate(c *fiber.Ctx) error {
	var req dto.EscalateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.escalations.ManualEscalate(c.UserContext(), c.Params("id"), req.Level, req.Reason, actorFrom(c, req.Actor))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Evaluate POST /tickets/:id/evaluate runs the escalation matrix now.
func (h *TicketsHandler) Evaluate(c *fiber.Ctx) error {
	outcome, err := h.escalations.EvaluateTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"escalated": outcome != nil,
		"outcome":   outcome,
	}})
}

// SLA GET /tickets/:id/sla.
func (h *TicketsHandler) SLA(c *fiber.Ctx) error {
	status, err := h.tickets.SLAStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SLAStatusResponse{
		TicketID:        status.TicketID,
		Status:          status.Status,
		Deadline:        status.Deadline,
		RemainingHours:  status.RemainingHours,
		RemainingSecs:   int64(status.Remaining / time.Second),
		Overdue:         status.Overdue,
		Paused:          status.Paused,
		EscalationLevel: status.EscalationLevel,
		EvaluatedAt:     status.EvaluatedAt,
	}})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	entries, err := h.tickets.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

func actorFrom(c *fiber.Ctx, fromBody string) string {
	if v := strings.TrimSpace(fromBody); v != "" {
		return v
	}
	return strings.TrimSpace(c.Get(ActorHeader))
}

func parseTicketQuery(c *fiber.Ctx) (repository.TicketFilter, error) {
	filter := repository.TicketFilter{}
	for _, part := range splitList(c.Query("status")) {
		status, ok := domain.ParseTicketStatus(part)
		if !ok {
			return filter, apperrors.NewValidationError("unknown status", map[string]any{"status": part})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, part := range splitList(c.Query("priority")) {
		priority, ok := domain.ParseTicketPriority(part)
		if !ok {
			return filter, apperrors.NewValidationError("unknown priority", map[string]any{"priority": part})
		}
		filter.Priorities = append(filter.Priorities, priority)
	}
	filter.Category = optional(c.Query("category"))
	filter.Department = optional(c.Query("department"))
	filter.AssigneeID = optional(c.Query("assignee_id"))
	filter.Ward = optional(c.Query("ward"))
	filter.SearchTerm = optional(c.Query("q"))
	if ch := optional(c.Query("channel")); ch != nil {
		channel, ok := domain.ParseChannel(*ch)
		if !ok {
			return filter, apperrors.NewValidationError("unknown channel", map[string]any{"channel": *ch})
		}
		filter.Channel = &channel
	}

	var err error
	if filter.CreatedFrom, err = parseTime("created_from", c.Query("created_from")); err != nil {
		return filter, err
	}
	if filter.CreatedUntil, err = parseTime("created_to", c.Query("created_to")); err != nil {
		return filter, err
	}

	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optional(val string) *string {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}
	return &val
}

func parseTime(field, val string) (*time.Time, error) {
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, apperrors.NewValidationError("timestamps must be RFC3339", map[string]any{field: val})
	}
	return &t, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:              ticket.ID,
		TicketNumber:    ticket.TicketNumber,
		Category:        ticket.Category,
		Department:      ticket.Department,
		Title:           ticket.Title,
		Status:          ticket.Status,
		Priority:        ticket.Priority,
		AssigneeID:      ticket.AssigneeID,
		SLADeadline:     ticket.SLADeadline,
		EscalationLevel: ticket.EscalationLevel,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
	}
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:                 ticket.ID,
		TicketNumber:       ticket.TicketNumber,
		Category:           ticket.Category,
		Department:         ticket.Department,
		Priority:           ticket.Priority,
		Channel:            ticket.Channel,
		Location:           ticket.Location,
		Title:              ticket.Title,
		Description:        ticket.Description,
		Attachments:        ticket.Attachments,
		Reporter:           ticket.Reporter,
		AssigneeID:         ticket.AssigneeID,
		AssignedDepartment: ticket.AssignedDepartment,
		Status:             ticket.Status,
		ResolutionType:     ticket.ResolutionType,
		CreatedAt:          ticket.CreatedAt,
		UpdatedAt:          ticket.UpdatedAt,
		SLAStartedAt:       ticket.SLAStartedAt,
		SLADeadline:        ticket.SLADeadline,
		ClosedAt:           ticket.ClosedAt,
		SLAMetAtClose:      ticket.SLAMetAtClose,
		EscalationLevel:    ticket.EscalationLevel,
		ReopenCount:        ticket.ReopenCount,
		Version:            ticket.Version,
		Updates:            ticket.Updates,
		EscalationLog:      ticket.EscalationLog,
	}
	if resp.Attachments == nil {
		resp.Attachments = []domain.Attachment{}
	}
	if resp.Updates == nil {
		resp.Updates = []domain.TicketUpdate{}
	}
	if resp.EscalationLog == nil {
		resp.EscalationLog = []domain.EscalationEntry{}
	}
	return resp
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:         entry.ID,
			ChangeType: entry.ChangeType,
			ChangedBy:  entry.ChangedBy,
			OldValue:   entry.OldValue,
			NewValue:   entry.NewValue,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return resp
}
