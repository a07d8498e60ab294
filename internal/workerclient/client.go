// Package workerclient implements the remote ticket worker. It
// connects to the orchestrator's worker pool endpoint, receives ticket
// assignments and runs the configured worker command for each one.
package workerclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/ticket-orchestrator/internal/gitops"
	"github.com/hochfrequenz/ticket-orchestrator/internal/workerproto"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// calculateBackoff returns the delay for a given attempt number using
// exponential backoff
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// pingWait is how long we wait for a ping from the orchestrator before
// timing out
const pingWait = 90 * time.Second

// writeWait is time allowed to write a control message
const writeWait = 10 * time.Second

// Config configures the worker client
type Config struct {
	ServerURL string
	WorkerID  string
	Slots     int
	Command   string
	Args      []string
	Dir       string
}

// Validate checks the config is usable
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	if c.WorkerID == "" {
		return fmt.Errorf("worker id is required")
	}
	if c.Slots <= 0 {
		return fmt.Errorf("slots must be positive")
	}
	if c.Command == "" {
		return fmt.Errorf("worker command is required")
	}
	return nil
}

// Worker is a remote ticket worker that connects to the orchestrator
type Worker struct {
	config Config
	slots  *SlotPool
	repo   *gitops.Repo
	conn   *websocket.Conn
	mu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// Running tickets, for cancellation
	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
}

// NewWorker creates a worker client
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		config: config,
		slots:  NewSlotPool(config.Slots),
		repo:   gitops.New(config.Dir),
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]context.CancelFunc),
	}, nil
}

// Connect establishes the connection and registers with the pool
func (w *Worker) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.config.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	// Protocol-level pings from the orchestrator extend our read
	// deadline; we answer with a pong since overriding the handler
	// suppresses the default one.
	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		deadline := time.Now().Add(writeWait)
		return conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	return w.send(workerproto.TypeRegister, workerproto.RegisterMessage{
		WorkerID:   w.config.WorkerID,
		MaxTickets: w.config.Slots,
	})
}

// Run processes assignments until the connection drops or Stop is
// called
func (w *Worker) Run() error {
	if err := w.sendReady(); err != nil {
		return err
	}

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		_, message, err := w.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		w.conn.SetReadDeadline(time.Now().Add(pingWait))

		var env workerproto.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case workerproto.TypeAssign:
			var assign workerproto.AssignMessage
			if err := json.Unmarshal(env.Payload, &assign); err != nil {
				log.Printf("invalid assign message: %v", err)
				continue
			}
			go w.handleAssign(assign)

		case workerproto.TypePing:
			w.send(workerproto.TypePong, nil)

		case workerproto.TypeCancel:
			var cancel workerproto.CancelMessage
			if err := json.Unmarshal(env.Payload, &cancel); err != nil {
				log.Printf("invalid cancel message: %v", err)
				continue
			}
			log.Printf("cancelling ticket %s", cancel.TicketID)
			w.CancelRun(cancel.TicketID)
		}
	}
}

func (w *Worker) handleAssign(assign workerproto.AssignMessage) {
	if !w.slots.Acquire() {
		w.send(workerproto.TypeError, workerproto.ErrorMessage{
			TicketID: assign.TicketID,
			Message:  "no slots available",
		})
		return
	}
	defer func() {
		w.slots.Release()
		w.untrackRun(assign.TicketID)
		w.sendReady()
	}()

	timeout := time.Duration(assign.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Minute
	}

	ctx, cancel := context.WithTimeout(w.ctx, timeout)
	defer cancel()
	w.trackRun(assign.TicketID, cancel)

	started := time.Now()
	exitCode, err := w.runCommand(ctx, assign)
	if err != nil {
		w.send(workerproto.TypeError, workerproto.ErrorMessage{
			TicketID: assign.TicketID,
			Message:  err.Error(),
		})
		return
	}

	var changed []string
	if exitCode == 0 {
		changed, err = w.repo.ChangedFiles()
		if err != nil {
			log.Printf("change detection failed for %s: %v", assign.TicketID, err)
		}
	}

	w.send(workerproto.TypeDone, workerproto.DoneMessage{
		TicketID:     assign.TicketID,
		ExitCode:     exitCode,
		ChangedFiles: changed,
		DurationMs:   time.Since(started).Milliseconds(),
	})
}

// runCommand executes the worker command for one ticket, streaming
// output back to the orchestrator. The returned error covers failures
// to start; a command that runs and exits non-zero is reported through
// the exit code.
func (w *Worker) runCommand(ctx context.Context, assign workerproto.AssignMessage) (int, error) {
	args := append(append([]string{}, w.config.Args...), assign.TicketID)
	cmd := exec.CommandContext(ctx, w.config.Command, args...)
	cmd.Dir = w.config.Dir
	cmd.Env = os.Environ()
	for key, value := range assign.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, err
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", w.config.Command, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	stream := func(r io.Reader, name string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			w.send(workerproto.TypeOutput, workerproto.OutputMessage{
				TicketID: assign.TicketID,
				Stream:   name,
				Data:     scanner.Text() + "\n",
			})
		}
	}
	go stream(stdout, "stdout")
	go stream(stderr, "stderr")
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, err
	}
	return 0, nil
}

func (w *Worker) sendReady() error {
	return w.send(workerproto.TypeReady, workerproto.ReadyMessage{
		Slots: w.slots.Available(),
	})
}

func (w *Worker) send(msgType string, payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := workerproto.MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.cancel()
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}

// RunWithReconnect runs the worker, reconnecting with exponential
// backoff whenever the connection drops
func (w *Worker) RunWithReconnect() error {
	attempt := 0

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		if err := w.Connect(); err != nil {
			delay := calculateBackoff(attempt)
			log.Printf("connection failed: %v, retrying in %v", err, delay)
			attempt++

			select {
			case <-w.ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		attempt = 0
		log.Printf("connected to orchestrator")

		err := w.Run()

		// Close before reconnecting to avoid leaking descriptors.
		w.mu.Lock()
		if w.conn != nil {
			w.conn.Close()
			w.conn = nil
		}
		w.mu.Unlock()

		if err != nil {
			log.Printf("disconnected: %v", err)
		}

		select {
		case <-w.ctx.Done():
			return nil
		default:
		}
	}
}

func (w *Worker) trackRun(ticketID string, cancel context.CancelFunc) {
	w.runsMu.Lock()
	defer w.runsMu.Unlock()
	w.runs[ticketID] = cancel
}

func (w *Worker) untrackRun(ticketID string) {
	w.runsMu.Lock()
	defer w.runsMu.Unlock()
	delete(w.runs, ticketID)
}

// HasRun reports whether a ticket is currently tracked
func (w *Worker) HasRun(ticketID string) bool {
	w.runsMu.Lock()
	defer w.runsMu.Unlock()
	_, ok := w.runs[ticketID]
	return ok
}

// CancelRun aborts a running ticket
func (w *Worker) CancelRun(ticketID string) {
	w.runsMu.Lock()
	cancel, ok := w.runs[ticketID]
	if ok {
		delete(w.runs, ticketID)
	}
	w.runsMu.Unlock()

	if ok && cancel != nil {
		cancel()
	}
}
