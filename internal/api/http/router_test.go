package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sla-service/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sla-service/internal/clock"
	"github.com/spec-kit/ticket-sla-service/internal/escalation"
	"github.com/spec-kit/ticket-sla-service/internal/events"
	"github.com/spec-kit/ticket-sla-service/internal/lifecycle"
	"github.com/spec-kit/ticket-sla-service/internal/observability"
	"github.com/spec-kit/ticket-sla-service/internal/repository"
	"github.com/spec-kit/ticket-sla-service/internal/service"
	"github.com/spec-kit/ticket-sla-service/internal/sla"
)

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	app   *fiber.App
	clock *clock.Manual
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewManual(t0)
	dispatcher := events.NewInMemoryDispatcher()
	history := repository.NewMemoryTicketHistoryRepository()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	evaluator := sla.NewEvaluator(sla.DefaultPolicyTable())

	tickets := service.NewTicketService(service.Dependencies{
		TicketRepo:  repository.NewMemoryTicketRepository(),
		HistoryRepo: history,
		Engine:      lifecycle.NewEngine(evaluator, "NCC"),
		Clock:       clk,
		Dispatcher:  dispatcher,
		Logger:      zap.NewNop(),
		Metrics:     metrics,
	})
	service.NewHistoryRecorder(history, zap.NewNop()).RegisterHandlers(dispatcher)
	escalations := service.NewEscalationService(tickets, escalation.NewEngine(nil, evaluator))

	app := NewApp("ticket-sla-test", zap.NewNop(), 0, RouteConfig{
		Health:      handlers.NewHealthHandler("ticket-sla-test", "test", "memory", nil),
		Tickets:     handlers.NewTicketsHandler(tickets, service.NewAssignmentService(tickets), escalations),
		Escalations: handlers.NewEscalationsHandler(escalations),
		Analytics:   handlers.NewAnalyticsHandler(tickets),
		Metrics:     metrics,
	})
	return &testServer{app: app, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.ActorHeader, "officer-7")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func (s *testServer) createTicket(t *testing.T, priority string) map[string]any {
	t.Helper()
	status, body := s.do(t, "POST", "/tickets", map[string]any{
		"category": "Pothole",
		"priority": priority,
		"title":    "Deep pothole on Moi Avenue",
		"channel":  "sms",
		"location": map[string]any{"ward": "Central"},
		"reporter": map[string]any{"name": "Amina"},
		"attachments": []map[string]any{
			{"kind": "photo", "handle": "media://abc"},
		},
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	return data(t, body)
}

func TestCreateAndFetchTicket(t *testing.T) {
	s := newTestServer(t)
	created := s.createTicket(t, "High")
	assert.Equal(t, "NCC-2025-0001", created["ticket_number"])
	assert.Equal(t, "OPEN", created["status"])
	assert.Equal(t, "SMS", created["channel"])
	assert.Equal(t, "Roads & Transport", created["department"])

	status, body := s.do(t, "GET", "/tickets/NCC-2025-0001", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, created["id"], data(t, body)["id"])

	status, body = s.do(t, "GET", "/tickets?status=open&ward=Central", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestErrorEnvelope(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/tickets", map[string]any{"category": "Pothole"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, "GET", "/tickets/0b7d9a3e-3f52-4a44-9a8e-2a6c1f1f3c10", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = s.do(t, "POST", "/tickets", map[string]any{
		"category": "Pothole", "priority": "High", "title": "Pothole", "channel": "carrier pigeon",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, "GET", "/tickets?channel=fax", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, "GET", "/tickets?status=lost", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, _ = s.do(t, "GET", "/nowhere", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createTicket(t, "High")["id"].(string)

	status, body := s.do(t, "POST", "/tickets/"+id+"/assign", map[string]any{"assignee_id": "officer-7"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "ASSIGNED", data(t, body)["status"])

	status, body = s.do(t, "PATCH", "/tickets/"+id+"/status", map[string]any{"status": "InProgress", "remark": "on site"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "IN_PROGRESS", data(t, body)["status"])

	status, body = s.do(t, "PATCH", "/tickets/"+id+"/status", map[string]any{"status": "OPEN"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(body))

	status, body = s.do(t, "POST", "/tickets/"+id+"/close", map[string]any{"resolution_type": "RESOLVED"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = s.do(t, "POST", "/tickets/"+id+"/close", map[string]any{"resolution_type": "RESOLVED", "remark": "patched"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, data(t, body)["sla_met_at_close"])

	status, body = s.do(t, "POST", "/tickets/"+id+"/updates", map[string]any{"author_type": "CITIZEN", "message": "thanks"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "TICKET_CLOSED", errorCode(body))

	s.clock.Advance(48 * time.Hour)
	status, body = s.do(t, "POST", "/tickets/"+id+"/reopen", map[string]any{"reason": "it is back"})
	require.Equal(t, fiber.StatusOK, status, body)
	reopened := data(t, body)
	assert.Equal(t, "ASSIGNED", reopened["status"])
	assert.EqualValues(t, 1, reopened["reopen_count"])

	status, body = s.do(t, "GET", "/tickets/"+id+"/history", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, body["data"])
}

func TestEscalationEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := s.createTicket(t, "High")["id"].(string)

	status, body := s.do(t, "POST", "/tickets/"+id+"/evaluate", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, data(t, body)["escalated"])

	s.clock.Set(t0.Add(72*time.Hour + 30*time.Hour))
	status, body = s.do(t, "GET", "/tickets/"+id+"/sla", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, data(t, body)["overdue"])
	assert.EqualValues(t, -30, data(t, body)["remaining_hours"])

	status, body = s.do(t, "POST", "/escalations/scan", nil)
	require.Equal(t, fiber.StatusOK, status)
	report := data(t, body)
	assert.EqualValues(t, 1, report["escalated"])

	status, body = s.do(t, "POST", "/tickets/"+id+"/escalate", map[string]any{"level": 4, "reason": "ministerial query"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.EqualValues(t, 4, data(t, body)["escalation_level"])

	status, body = s.do(t, "POST", "/tickets/"+id+"/escalate", map[string]any{"level": 3, "reason": "lower"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestAnalyticsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.createTicket(t, "High")
	s.createTicket(t, "Low")

	status, body := s.do(t, "GET", "/analytics?dimension=channel&from=2025-05-01T00:00:00Z&to=2025-05-02T00:00:00Z", nil)
	require.Equal(t, fiber.StatusOK, status, body)
	report := data(t, body)
	kpis := report["kpis"].(map[string]any)
	assert.EqualValues(t, 2, kpis["total"])
	assert.EqualValues(t, 0, kpis["sla_achievement"])
	assert.Len(t, report["groups"], 1)

	status, body = s.do(t, "GET", "/analytics?dimension=county", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = s.do(t, "GET", "/analytics?from=yesterday", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "GET", "/health/live", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, _ = s.do(t, "GET", "/health/ready", nil)
	assert.Equal(t, fiber.StatusOK, status)

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "ticket_sla_http_requests_total")
}
