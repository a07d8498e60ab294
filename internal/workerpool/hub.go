package workerpool

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/ticket-orchestrator/internal/workerproto"
)

// Hub owns the WebSocket side of the worker pool. It upgrades incoming
// worker connections, keeps the registry current and routes results
// back to the assigner. The HTTP server mounting HandleWebSocket is the
// caller's business.
type Hub struct {
	registry *Registry
	assigner *Assigner
	upgrader websocket.Upgrader
	logger   *log.Logger

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	// Output accumulates per ticket until the run finishes.
	outputMu     sync.Mutex
	outputBuffer map[string]*strings.Builder
}

// NewHub wires a hub over the registry and assigner
func NewHub(registry *Registry, assigner *Assigner, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	h := &Hub{
		registry: registry,
		assigner: assigner,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:            logger,
		heartbeatInterval: 30 * time.Second,
		heartbeatTimeout:  90 * time.Second,
		outputBuffer:      make(map[string]*strings.Builder),
	}
	assigner.setSendFunc(h.sendAssign)
	return h
}

// HandleWebSocket handles incoming worker connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}
	go h.handleWorkerConnection(conn)
}

func (h *Hub) handleWorkerConnection(conn *websocket.Conn) {
	var workerID string
	defer func() {
		conn.Close()
		if workerID != "" {
			h.registry.Unregister(workerID)
			h.assigner.RequeueWorkerTickets(workerID)
			h.assigner.TryDispatch()
			h.logger.Printf("worker %s disconnected", workerID)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(h.heartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.heartbeatTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Printf("read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(h.heartbeatTimeout))

		var env workerproto.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			h.logger.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case workerproto.TypeRegister:
			var reg workerproto.RegisterMessage
			if err := json.Unmarshal(env.Payload, &reg); err != nil {
				h.logger.Printf("invalid register: %v", err)
				continue
			}
			workerID = reg.WorkerID
			h.registry.Register(&RemoteWorker{
				ID:         reg.WorkerID,
				MaxTickets: reg.MaxTickets,
				Slots:      reg.MaxTickets,
				Conn:       conn,
			})
			h.logger.Printf("worker %s registered (max_tickets=%d)", reg.WorkerID, reg.MaxTickets)

		case workerproto.TypeReady:
			var ready workerproto.ReadyMessage
			if err := json.Unmarshal(env.Payload, &ready); err != nil {
				h.logger.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			if w := h.registry.Get(workerID); w != nil {
				w.UpdateSlots(ready.Slots)
				h.assigner.TryDispatch()
			}

		case workerproto.TypeOutput:
			var output workerproto.OutputMessage
			if err := json.Unmarshal(env.Payload, &output); err != nil {
				h.logger.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			h.accumulateOutput(output.TicketID, output.Data)

		case workerproto.TypeDone:
			var done workerproto.DoneMessage
			if err := json.Unmarshal(env.Payload, &done); err != nil {
				h.logger.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			h.assigner.Complete(done.TicketID, &workerproto.Result{
				TicketID:     done.TicketID,
				ExitCode:     done.ExitCode,
				ChangedFiles: done.ChangedFiles,
				Output:       h.getAndClearOutput(done.TicketID),
				DurationMs:   done.DurationMs,
			})

		case workerproto.TypeError:
			var errMsg workerproto.ErrorMessage
			if err := json.Unmarshal(env.Payload, &errMsg); err != nil {
				h.logger.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			h.assigner.Complete(errMsg.TicketID, &workerproto.Result{
				TicketID: errMsg.TicketID,
				Output:   h.getAndClearOutput(errMsg.TicketID),
				Err:      errMsg.Message,
			})

		case workerproto.TypePong:
			if w := h.registry.Get(workerID); w != nil {
				w.SetLastHeartbeat(time.Now())
			}
		}
	}
}

func (h *Hub) sendAssign(w *RemoteWorker, assign *workerproto.AssignMessage) error {
	data, err := workerproto.MarshalEnvelope(workerproto.TypeAssign, assign)
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, data)
}

// StartHeartbeats pings workers on an interval until ctx ends. Broken
// connections are closed so their read loops clean up.
func (h *Hub) StartHeartbeats(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.pingWorkers()
			}
		}
	}()
}

func (h *Hub) pingWorkers() {
	for _, w := range h.registry.All() {
		w.writeMu.Lock()
		w.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := w.Conn.WriteMessage(websocket.PingMessage, nil)
		w.Conn.SetWriteDeadline(time.Time{})
		w.writeMu.Unlock()

		if err != nil {
			h.logger.Printf("ping to %s failed: %v", w.ID, err)
			w.Conn.Close()
		}
	}
}

func (h *Hub) accumulateOutput(ticketID, data string) {
	h.outputMu.Lock()
	defer h.outputMu.Unlock()

	if h.outputBuffer[ticketID] == nil {
		h.outputBuffer[ticketID] = &strings.Builder{}
	}
	h.outputBuffer[ticketID].WriteString(data)
}

func (h *Hub) getAndClearOutput(ticketID string) string {
	h.outputMu.Lock()
	defer h.outputMu.Unlock()

	if buf, ok := h.outputBuffer[ticketID]; ok {
		output := buf.String()
		delete(h.outputBuffer, ticketID)
		return output
	}
	return ""
}
