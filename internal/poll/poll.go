package poll

import (
	"context"
	"time"

	"github.com/greese/imaginary-home-sub000/internal/controller"
)

// Poll intervals. A signalled cycle drops to the fast interval; every empty
// cycle doubles the wait up to the cap.
const (
	initialPollWait = 60 * time.Second
	fastPollWait    = 10 * time.Second
	maxPollWait     = 60 * time.Second
)

// Logger defines the logging interface used by the poll package.
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

// CommandSink receives fetched command batches. Implemented by the
// controller.
type CommandSink interface {
	QueueCommands(batch controller.CommandList) error
}

// SnapshotFunc assembles the current device-state snapshot for a push.
type SnapshotFunc func(ctx context.Context) []DeviceState

// Loop polls one cloud service for pending commands.
type Loop struct {
	client    *Client
	serviceID string
	sink      CommandSink
	snapshot  SnapshotFunc
	pushEvery time.Duration
	logger    Logger

	pollWait      time.Duration
	nextStatePush time.Time
	now           func() time.Time
}

// NewLoop creates a poll loop for one paired cloud service.
//
// pushEvery is the full state-push interval; between pushes the loop issues
// cheap probes. snapshot may be nil when the controller has no devices to
// report.
func NewLoop(client *Client, serviceID string, sink CommandSink, snapshot SnapshotFunc, pushEvery time.Duration, logger Logger) *Loop {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Loop{
		client:    client,
		serviceID: serviceID,
		sink:      sink,
		snapshot:  snapshot,
		pushEvery: pushEvery,
		logger:    logger,
		pollWait:  initialPollWait,
		now:       time.Now,
	}
}

// Run polls until the context is cancelled. Transport failures are logged
// and the loop continues on its next wake; it never returns early.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("poll loop started",
		"service_id", l.serviceID,
		"relay_id", l.client.RelayID(),
		"push_every", l.pushEvery,
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("poll loop stopped", "service_id", l.serviceID)
			return
		case <-time.After(l.pollWait):
			l.cycle(ctx)
		}
	}
}

// cycle runs one poll iteration and adjusts pollWait.
func (l *Loop) cycle(ctx context.Context) {
	has, err := l.checkCloud(ctx)
	if err != nil {
		l.logger.Warn("poll cycle failed",
			"service_id", l.serviceID,
			"error", err,
		)
		return
	}

	if !has {
		l.pollWait = minDuration(maxPollWait, l.pollWait*2)
		l.logger.Debug("no pending commands", "service_id", l.serviceID, "poll_wait", l.pollWait)
		return
	}

	commands, err := l.client.FetchCommands(ctx)
	if err != nil {
		l.logger.Warn("command fetch failed", "service_id", l.serviceID, "error", err)
		return
	}

	if len(commands) > 0 {
		batch := controller.CommandList{ServiceID: l.serviceID}
		for _, pc := range commands {
			batch.Commands = append(batch.Commands, controller.QueuedCommand{
				ID:             pc.ID,
				Payload:        pc.Payload,
				TimeoutSeconds: pc.TimeoutSeconds,
			})
		}
		if err := l.sink.QueueCommands(batch); err != nil {
			l.logger.Error("enqueueing fetched commands",
				"service_id", l.serviceID,
				"commands", len(commands),
				"error", err,
			)
			return
		}
		l.logger.Info("commands fetched", "service_id", l.serviceID, "commands", len(commands))
	}

	l.pollWait = fastPollWait
}

// checkCloud pushes a state snapshot when one is due, otherwise probes.
// Both return the cloud's pending-command indicator.
func (l *Loop) checkCloud(ctx context.Context) (bool, error) {
	now := l.now()
	if now.After(l.nextStatePush) {
		var devices []DeviceState
		if l.snapshot != nil {
			devices = l.snapshot(ctx)
		}
		has, err := l.client.PushState(ctx, devices)
		if err != nil {
			return false, err
		}
		l.nextStatePush = now.Add(l.pushEvery)
		return has, nil
	}
	return l.client.Probe(ctx)
}

// ResultRouter posts execution results to the cloud service that issued
// the commands. It implements the controller's ResultSink.
type ResultRouter struct {
	clients map[string]*Client
	logger  Logger
}

// NewResultRouter creates a router over per-service clients.
func NewResultRouter(logger Logger) *ResultRouter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ResultRouter{clients: make(map[string]*Client), logger: logger}
}

// AddService binds a service id to its client.
func (r *ResultRouter) AddService(serviceID string, client *Client) {
	r.clients[serviceID] = client
}

// PostResult reports one outcome to the owning service. Results for
// unknown services (locally originated work) are dropped quietly; transport
// failures are logged and not retried.
func (r *ResultRouter) PostResult(ctx context.Context, serviceID string, result controller.Result) {
	client, ok := r.clients[serviceID]
	if !ok {
		r.logger.Debug("result for unrouted service", "service_id", serviceID, "command_id", result.CommandID)
		return
	}

	payload := []ResultPayload{{
		CommandID: result.CommandID,
		Success:   result.Success,
		Message:   result.Message,
	}}
	if err := client.PostResults(ctx, payload); err != nil {
		r.logger.Warn("posting command result",
			"service_id", serviceID,
			"command_id", result.CommandID,
			"error", err,
		)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
