package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/graph"
	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
	"github.com/hochfrequenz/ticket-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/ticket-orchestrator/internal/ticketstore"
)

type mockStore struct {
	tickets []*domain.Ticket
}

func (m *mockStore) ListTickets(opts ticketstore.ListOptions) ([]*domain.Ticket, error) {
	if opts.State == "" {
		return m.tickets, nil
	}
	var out []*domain.Ticket
	for _, t := range m.tickets {
		if t.State == opts.State {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) GetTicket(id string) (*domain.Ticket, error) {
	for _, t := range m.tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (m *mockStore) CountByState() (map[domain.TicketState]int, error) {
	counts := make(map[domain.TicketState]int)
	for _, t := range m.tickets {
		counts[t.State]++
	}
	return counts, nil
}

type mockPlanner struct {
	ready   []string
	blocked []scheduler.BlockedTicket
	report  *graph.CriticalPathReport
	err     error
}

func (m *mockPlanner) ResolveReadyWork() ([]string, []scheduler.BlockedTicket, error) {
	return m.ready, m.blocked, m.err
}

func (m *mockPlanner) CriticalPath() (*graph.CriticalPathReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

type mockQueue struct {
	entries []*commitqueue.Entry
}

func (m *mockQueue) List(status commitqueue.EntryStatus) ([]*commitqueue.Entry, error) {
	if status == "" {
		return m.entries, nil
	}
	var out []*commitqueue.Entry
	for _, e := range m.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockQueue) Depth() (int, error) {
	n := 0
	for _, e := range m.entries {
		if e.Status == commitqueue.EntryQueued {
			n++
		}
	}
	return n, nil
}

func TestListTicketsHandler(t *testing.T) {
	store := &mockStore{
		tickets: []*domain.Ticket{
			{ID: "AUTH-1", Title: "Login flow", State: domain.StateCompleted, Priority: domain.PriorityP1},
			{ID: "AUTH-2", Title: "Token refresh", State: domain.StateUnprocessed, Priority: domain.PriorityP2},
		},
	}

	server := NewServer(store, ":8080")

	req := httptest.NewRequest("GET", "/api/tickets", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}

	var tickets []TicketResponse
	json.NewDecoder(w.Body).Decode(&tickets)

	if len(tickets) != 2 {
		t.Errorf("Ticket count = %d, want 2", len(tickets))
	}
}

func TestListTicketsHandler_StateFilter(t *testing.T) {
	store := &mockStore{
		tickets: []*domain.Ticket{
			{ID: "AUTH-1", State: domain.StateCompleted},
			{ID: "AUTH-2", State: domain.StateUnprocessed},
		},
	}

	server := NewServer(store, ":8080")

	req := httptest.NewRequest("GET", "/api/tickets?state=completed", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var tickets []TicketResponse
	json.NewDecoder(w.Body).Decode(&tickets)

	if len(tickets) != 1 || tickets[0].ID != "AUTH-1" {
		t.Errorf("filtered tickets = %+v, want only AUTH-1", tickets)
	}
}

func TestStatusHandler(t *testing.T) {
	store := &mockStore{
		tickets: []*domain.Ticket{
			{ID: "T1", State: domain.StateCompleted},
			{ID: "T2", State: domain.StateInProgress},
			{ID: "T3", State: domain.StateUnprocessed},
			{ID: "T4", State: domain.StateDeferred},
		},
	}

	server := NewServer(store, ":8080")
	server.SetQueue(&mockQueue{entries: []*commitqueue.Entry{
		{QueueID: 1, Status: commitqueue.EntryQueued},
	}})

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if status.Total != 4 {
		t.Errorf("Total = %d, want 4", status.Total)
	}
	if status.Completed != 1 || status.InProgress != 1 || status.Deferred != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", status.QueueDepth)
	}
}

func TestGetTicketHandler(t *testing.T) {
	store := &mockStore{
		tickets: []*domain.Ticket{
			{ID: "AUTH-1", Title: "Login flow", State: domain.StateUnprocessed},
		},
	}
	server := NewServer(store, ":8080")

	req := httptest.NewRequest("GET", "/api/tickets/AUTH-1", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var ticket TicketResponse
	json.NewDecoder(w.Body).Decode(&ticket)
	if ticket.ID != "AUTH-1" || ticket.Title != "Login flow" {
		t.Errorf("ticket = %+v", ticket)
	}

	req = httptest.NewRequest("GET", "/api/tickets/NOPE-1", nil)
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("missing ticket status = %d, want 404", w.Code)
	}
}

func TestQueueHandler(t *testing.T) {
	store := &mockStore{}
	server := NewServer(store, ":8080")
	server.SetQueue(&mockQueue{entries: []*commitqueue.Entry{
		{QueueID: 101, TicketID: "T1", Status: commitqueue.EntryQueued, QueuedAt: time.Now()},
		{QueueID: 102, TicketID: "T2", Status: commitqueue.EntryCompleted, QueuedAt: time.Now(), CompletedAt: time.Now()},
	}})

	req := httptest.NewRequest("GET", "/api/queue", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var resp QueueResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if resp.Depth != 1 {
		t.Errorf("Depth = %d, want 1", resp.Depth)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("Entries = %d, want 2", len(resp.Entries))
	}
	if resp.Entries[1].CompletedAt == nil {
		t.Error("completed entry should carry completed_at")
	}
	if resp.Entries[0].CompletedAt != nil {
		t.Error("queued entry should not carry completed_at")
	}
}

func TestGraphHandler(t *testing.T) {
	server := NewServer(&mockStore{}, ":8080")
	server.SetPlanner(&mockPlanner{
		ready: []string{"T2", "T1"},
		blocked: []scheduler.BlockedTicket{
			{Ticket: &domain.Ticket{ID: "T3"}, WaitingOn: []string{"T1"}},
		},
		report: &graph.CriticalPathReport{
			CriticalID: "T3",
			MaxDepth:   2,
			Depths:     map[string]int{"T1": 1, "T2": 1, "T3": 2},
		},
	})

	req := httptest.NewRequest("GET", "/api/graph", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	var resp GraphResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if len(resp.Ready) != 2 || resp.Ready[0] != "T2" {
		t.Errorf("Ready = %v, want resolver order preserved", resp.Ready)
	}
	if len(resp.Blocked) != 1 || resp.Blocked[0].ID != "T3" {
		t.Errorf("Blocked = %+v", resp.Blocked)
	}
	if resp.Critical == nil || resp.Critical.TicketID != "T3" || resp.Critical.MaxDepth != 2 {
		t.Errorf("Critical = %+v", resp.Critical)
	}
}

func TestGraphHandler_CycleIsConflict(t *testing.T) {
	server := NewServer(&mockStore{}, ":8080")
	server.SetPlanner(&mockPlanner{
		err: &orcerrors.StructuralError{Path: []string{"A", "B", "A"}},
	})

	req := httptest.NewRequest("GET", "/api/graph", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Status = %d, want 409 for a cyclic graph", w.Code)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("error body should name the cycle")
	}
}

func TestWorkersHandler_EmptyWithoutPool(t *testing.T) {
	server := NewServer(&mockStore{}, ":8080")

	req := httptest.NewRequest("GET", "/api/workers", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}

func TestWorkerSocketHandler_DisabledWithoutHub(t *testing.T) {
	server := NewServer(&mockStore{}, ":8080")

	req := httptest.NewRequest("GET", "/api/workers/ws", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503 without a hub", w.Code)
	}
}

func TestSSEHub_BroadcastAndDrop(t *testing.T) {
	hub := NewSSEHub()
	go hub.Run()
	defer hub.Stop()

	client := make(chan SSEEvent, 1)
	hub.register <- client

	hub.Broadcast(SSEEvent{Type: "ticket_update", Data: "T1"})

	select {
	case ev := <-client:
		if ev.Type != "ticket_update" {
			t.Errorf("event type = %q, want ticket_update", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}
