package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/dispatch"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/graph"
	"github.com/hochfrequenz/ticket-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/ticket-orchestrator/internal/ticketstore"
	"github.com/hochfrequenz/ticket-orchestrator/internal/workerpool"
)

// Store is the slice of the ticket store the API reads
type Store interface {
	ListTickets(opts ticketstore.ListOptions) ([]*domain.Ticket, error)
	GetTicket(id string) (*domain.Ticket, error)
	CountByState() (map[domain.TicketState]int, error)
}

// QueueStore reads the commit queue
type QueueStore interface {
	List(status commitqueue.EntryStatus) ([]*commitqueue.Entry, error)
	Depth() (int, error)
}

// Planner answers scheduling queries over the current ticket graph
type Planner interface {
	ResolveReadyWork() ([]string, []scheduler.BlockedTicket, error)
	CriticalPath() (*graph.CriticalPathReport, error)
}

// Server is the HTTP API server
type Server struct {
	store   Store
	queue   QueueStore
	planner Planner
	runs    *dispatch.Manager
	pool    *workerpool.Registry
	hub     *workerpool.Hub
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
	httpSrv *http.Server
}

// NewServer creates a new API server. The optional collaborators are
// wired with the Set methods; their endpoints degrade gracefully while
// unset.
func NewServer(store Store, addr string) *Server {
	s := &Server{
		store:  store,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
	}
	s.setupRoutes()
	return s
}

// SetQueue serves the commit queue under /api/queue
func (s *Server) SetQueue(queue QueueStore) {
	s.queue = queue
}

// SetPlanner serves the scheduling view under /api/graph
func (s *Server) SetPlanner(planner Planner) {
	s.planner = planner
}

// SetRuns serves worker run activity under /api/runs
func (s *Server) SetRuns(runs *dispatch.Manager) {
	s.runs = runs
}

// SetWorkerPool serves connected workers under /api/workers and mounts
// the coordinator websocket under /api/workers/ws.
func (s *Server) SetWorkerPool(pool *workerpool.Registry, hub *workerpool.Hub) {
	s.pool = pool
	s.hub = hub
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/tickets", s.listTicketsHandler())
	s.mux.HandleFunc("/api/tickets/", s.getTicketHandler())
	s.mux.HandleFunc("/api/queue", s.queueHandler())
	s.mux.HandleFunc("/api/graph", s.graphHandler())
	s.mux.HandleFunc("/api/runs", s.runsHandler())
	s.mux.HandleFunc("/api/workers", s.workersHandler())
	s.mux.HandleFunc("/api/workers/ws", s.workerSocketHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/", s.indexHandler())
}

// Handler exposes the route table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	go s.sseHub.Run()
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.mux}
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the HTTP server and disconnects SSE clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.sseHub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
