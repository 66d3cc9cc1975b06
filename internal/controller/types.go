package controller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/greese/imaginary-home-sub000/internal/command"
)

// State document filenames under the controller's state directory.
const (
	ConfigFile   = "config.json"
	QueueFile    = "queue.json"
	ScheduleFile = "schedule.json"
)

// Config is the controller's persisted configuration document.
type Config struct {
	// Name is the human-readable controller name reported to the cloud.
	Name string `json:"name"`

	// Systems describes the automation systems to construct at startup.
	Systems []command.SystemConfig `json:"systems"`

	// Services lists the cloud services this controller is paired with.
	Services []ServiceConfig `json:"services"`
}

// ServiceConfig identifies one paired cloud service and the credentials
// minted for it during pairing. The bearer token is not persisted; it is
// exchanged afresh on startup and on rotation.
type ServiceConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RelayID string `json:"relayId"`
	Secret  string `json:"secret"`
}

// QueuedCommand is one command inside a batch. ID is the cloud-side
// pending-command id when the batch originated from a fetch, empty for
// locally originated work; results are keyed by it when present.
// TimeoutSeconds, when positive, overrides the payload's own timeout with
// the one assigned at queueing time.
type QueuedCommand struct {
	ID             string          `json:"id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	TimeoutSeconds int             `json:"timeoutSeconds,omitempty"`
}

// CommandList is a batch of immediate commands bound to the service their
// results are posted to. FIFO, no time binding.
type CommandList struct {
	ServiceID string          `json:"serviceId"`
	Commands  []QueuedCommand `json:"commands"`
}

// ScheduledCommandList is a batch of commands bound to a future execution
// time. The schedule's total order key is (ExecuteAfter, ScheduleID).
type ScheduledCommandList struct {
	ScheduleID   string          `json:"scheduleId"`
	ServiceID    string          `json:"serviceId"`
	ExecuteAfter time.Time       `json:"executeAfter"`
	Commands     []QueuedCommand `json:"commands"`
}

// Result is the outcome of one executed command.
type Result struct {
	CommandID string        `json:"commandId"`
	Success   bool          `json:"success"`
	Changed   bool          `json:"changed"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"-"`

	// SystemID and Capability describe what ran, for history recording.
	SystemID   string `json:"-"`
	Capability string `json:"-"`
}

// Executor runs one command to completion. Implemented by command.Executor.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (changed bool, err error)
}

// ResultSink receives one result per executed command.
type ResultSink interface {
	PostResult(ctx context.Context, serviceID string, result Result)
}

// MultiSink fans results out to several sinks.
type MultiSink []ResultSink

// PostResult delivers the result to every sink in order.
func (m MultiSink) PostResult(ctx context.Context, serviceID string, result Result) {
	for _, sink := range m {
		sink.PostResult(ctx, serviceID, result)
	}
}

// Logger defines the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
