// Package workerproto defines message types for the remote worker pool.
// Messages flow over WebSocket connections between the orchestrator and
// ticket workers.
package workerproto

import "encoding/json"

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Worker -> Orchestrator messages

// RegisterMessage sent when a worker first connects
type RegisterMessage struct {
	WorkerID   string `json:"worker_id"`
	MaxTickets int    `json:"max_tickets"`
}

// ReadyMessage sent when a worker has available ticket slots
type ReadyMessage struct {
	Slots int `json:"slots"`
}

// OutputMessage sent for streaming worker command output
type OutputMessage struct {
	TicketID string `json:"ticket_id"`
	Stream   string `json:"stream"` // "stdout" or "stderr"
	Data     string `json:"data"`
}

// DoneMessage sent when the worker command exits. ChangedFiles is what
// the worker's tree shows as modified, so the orchestrator can decide
// between completion and rollback.
type DoneMessage struct {
	TicketID     string   `json:"ticket_id"`
	ExitCode     int      `json:"exit_code"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
}

// ErrorMessage sent when a ticket run fails before the command exits
type ErrorMessage struct {
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
}

// Orchestrator -> Worker messages

// AssignMessage hands a ticket to a worker
type AssignMessage struct {
	TicketID string            `json:"ticket_id"`
	Title    string            `json:"title"`
	Priority string            `json:"priority"`
	FilePath string            `json:"file_path,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Timeout  int               `json:"timeout_secs,omitempty"`
}

// CancelMessage requests that a running ticket be abandoned
type CancelMessage struct {
	TicketID string `json:"ticket_id"`
}

// Message type constants
const (
	TypeRegister = "register"
	TypeReady    = "ready"
	TypeOutput   = "output"
	TypeDone     = "done"
	TypeError    = "error"
	TypeAssign   = "assign"
	TypeCancel   = "cancel"
	TypePing     = "ping"
	TypePong     = "pong"
)

// Result is the settled outcome of one remote ticket run
type Result struct {
	TicketID     string
	ExitCode     int
	ChangedFiles []string
	Output       string
	DurationMs   int64
	Err          string
}
