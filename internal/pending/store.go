package pending

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeviceResolver maps a device id to its owning relay.
// Implemented by the relay package.
type DeviceResolver interface {
	RelayIDForDevice(ctx context.Context, deviceID string) (string, error)
}

// Logger defines the logging interface used by the Store.
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

// Store is the per-relay queue of commands awaiting delivery.
type Store struct {
	repo    Repository
	devices DeviceResolver
	logger  Logger
	now     func() time.Time
}

// NewStore creates a pending-command store.
func NewStore(repo Repository, devices DeviceResolver) *Store {
	return &Store{
		repo:    repo,
		devices: devices,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Queue creates pending commands for a set of target devices.
//
// Devices are grouped by owning relay; one fresh group id covers the whole
// call; for every (relay, payload) pair one WAITING command is created.
// Returns the full set created, or ErrNoDevices when devices is empty.
func (s *Store) Queue(ctx context.Context, timeout time.Duration, payloads []json.RawMessage, deviceIDs []string) ([]Command, error) {
	if len(deviceIDs) == 0 {
		return nil, ErrNoDevices
	}

	// Group devices by owning relay, preserving relay discovery order.
	byRelay := make(map[string][]string)
	var relayOrder []string
	for _, deviceID := range deviceIDs {
		relayID, err := s.devices.RelayIDForDevice(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if _, seen := byRelay[relayID]; !seen {
			relayOrder = append(relayOrder, relayID)
		}
		byRelay[relayID] = append(byRelay[relayID], deviceID)
	}

	groupID := uuid.NewString()
	now := s.now().UTC()

	commands := make([]Command, 0, len(relayOrder)*len(payloads))
	for _, relayID := range relayOrder {
		for _, payload := range payloads {
			commands = append(commands, Command{
				ID:         uuid.NewString(),
				RelayID:    relayID,
				GroupID:    groupID,
				DeviceIDs:  byRelay[relayID],
				Payload:    payload,
				State:      StateWaiting,
				EnqueuedAt: now,

				TimeoutSeconds: int(timeout.Seconds()),
			})
		}
	}

	if err := s.repo.Create(ctx, commands); err != nil {
		return nil, err
	}

	s.logger.Info("commands queued",
		"group_id", groupID,
		"relays", len(relayOrder),
		"commands", len(commands),
	)
	return commands, nil
}

// HasCommands reports whether at least one WAITING command exists for the relay.
func (s *Store) HasCommands(ctx context.Context, relayID string) (bool, error) {
	return s.repo.HasWaiting(ctx, relayID)
}

// CommandsToSend selects all WAITING commands for a relay.
//
// When markSent is set, each item is transitioned to SENT in its own
// transaction; an item whose transition fails is logged and excluded from
// the returned set (it remains WAITING). The method never aborts the whole
// batch because of one item's failure.
func (s *Store) CommandsToSend(ctx context.Context, relayID string, markSent bool) ([]Command, error) {
	waiting, err := s.repo.ListWaiting(ctx, relayID)
	if err != nil {
		return nil, err
	}
	if !markSent {
		return waiting, nil
	}

	sent := make([]Command, 0, len(waiting))
	for _, c := range waiting {
		sentAt := s.now().UTC()
		if err := s.repo.MarkSent(ctx, c.ID, sentAt); err != nil {
			s.logger.Warn("command excluded from batch: state transition failed",
				"command_id", c.ID,
				"relay_id", relayID,
				"error", err,
			)
			continue
		}
		c.State = StateSent
		c.SentAt = &sentAt
		sent = append(sent, c)
	}
	return sent, nil
}

// RecordResult stores a relay-reported execution outcome.
func (s *Store) RecordResult(ctx context.Context, result Result) error {
	return s.repo.RecordResult(ctx, result, s.now().UTC())
}
