package pending

import (
	"encoding/json"
	"time"
)

// State is the delivery state of a pending command.
type State string

// Pending command states. A command never transitions back to WAITING.
const (
	StateWaiting State = "WAITING"
	StateSent    State = "SENT"
)

// Command is one unit of work queued for a specific relay.
//
// GroupID batches commands created together by a single Queue call; the
// payload is an opaque JSON blob interpreted by the controller.
type Command struct {
	ID         string          `json:"id"`
	RelayID    string          `json:"relayId"`
	GroupID    string          `json:"groupId"`
	DeviceIDs  []string        `json:"deviceIds"`
	Payload    json.RawMessage `json:"payload"`
	State      State           `json:"state"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	SentAt     *time.Time      `json:"sentAt,omitempty"`

	// TimeoutSeconds bounds execution on the controller. Seconds on the
	// wire, matching the submission shape.
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// Result is a relay-reported execution outcome for one command.
type Result struct {
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}
