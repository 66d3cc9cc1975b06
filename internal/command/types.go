package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds commands whose payload carries no timeout.
const DefaultTimeout = 5 * time.Minute

// Command is one runtime unit of work against an automation system.
//
// It is ephemeral: parsed from a wire payload, executed, and discarded.
// ResourceIDs is an optional allow-list; when empty the operation runs on
// every resource under the target system that owns the capability.
type Command struct {
	ID          string         `json:"commandId"`
	SystemID    string         `json:"systemId"`
	Capability  string         `json:"capability"`
	Operation   string         `json:"operation"`
	ResourceIDs []string       `json:"resourceIds,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`

	// Timeout bounds the whole execution. Zero means DefaultTimeout.
	Timeout time.Duration `json:"-"`
}

// wireCommand is the JSON shape of a command payload.
type wireCommand struct {
	ID             string         `json:"commandId"`
	SystemID       string         `json:"systemId"`
	Capability     string         `json:"capability"`
	Operation      string         `json:"operation"`
	ResourceIDs    []string       `json:"resourceIds"`
	Arguments      map[string]any `json:"arguments"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
}

// Parse decodes a command payload.
//
// A missing command id is filled with a fresh UUID; a missing timeout
// defaults to DefaultTimeout. Returns a ControllerError for payloads that
// do not decode or that omit the target system or operation.
func Parse(payload json.RawMessage) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(payload, &w); err != nil {
		return Command{}, &ControllerError{
			Reason: "command payload does not parse",
			Err:    err,
		}
	}
	if w.SystemID == "" || w.Operation == "" {
		return Command{}, &ControllerError{
			Reason: fmt.Sprintf("command payload incomplete: systemId=%q operation=%q", w.SystemID, w.Operation),
		}
	}

	cmd := Command{
		ID:          w.ID,
		SystemID:    w.SystemID,
		Capability:  w.Capability,
		Operation:   w.Operation,
		ResourceIDs: w.ResourceIDs,
		Arguments:   w.Arguments,
		Timeout:     DefaultTimeout,
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if w.TimeoutSeconds > 0 {
		cmd.Timeout = time.Duration(w.TimeoutSeconds) * time.Second
	}
	return cmd, nil
}

// Resource is one addressable unit under an automation system.
type Resource interface {
	// ID returns the resource identifier (typically a device id).
	ID() string

	// Capabilities lists the capability names this resource owns.
	Capabilities() []string

	// Execute runs one capability operation. The returned bool reports
	// whether the operation changed observable state.
	Execute(ctx context.Context, capability, operation string, args map[string]any) (changed bool, err error)
}

// System is a capability provider hosting a set of resources.
type System interface {
	// ID returns the system identifier commands address it by.
	ID() string

	// Resources returns the resources currently under this system.
	Resources() []Resource

	// Close releases the system's connections.
	Close() error
}

// HasCapability reports whether a resource owns the named capability.
// An empty capability matches every resource.
func HasCapability(r Resource, capability string) bool {
	if capability == "" {
		return true
	}
	for _, c := range r.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}
