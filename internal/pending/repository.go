package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository defines the interface for pending-command persistence.
type Repository interface {
	// Create inserts a batch of WAITING commands.
	Create(ctx context.Context, commands []Command) error

	// ListWaiting retrieves all WAITING commands for a relay, oldest first.
	ListWaiting(ctx context.Context, relayID string) ([]Command, error)

	// HasWaiting reports whether at least one WAITING command exists for a
	// relay. A cheap existence probe.
	HasWaiting(ctx context.Context, relayID string) (bool, error)

	// MarkSent transitions one command WAITING->SENT with the given sent
	// time, inside its own transaction. Returns ErrNotWaiting when the
	// command is no longer WAITING.
	MarkSent(ctx context.Context, commandID string, sentAt time.Time) error

	// RecordResult stores the relay-reported outcome for a command.
	RecordResult(ctx context.Context, result Result, completedAt time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a batch of WAITING commands.
func (r *SQLiteRepository) Create(ctx context.Context, commands []Command) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting command insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	for _, c := range commands {
		deviceIDs, err := json.Marshal(c.DeviceIDs)
		if err != nil {
			return fmt.Errorf("marshalling device ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_commands
				(id, relay_id, group_id, device_ids, payload, state, enqueued_at, timeout_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.RelayID, c.GroupID, string(deviceIDs), string(c.Payload),
			string(c.State), c.EnqueuedAt, c.TimeoutSeconds); err != nil {
			return fmt.Errorf("inserting command %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListWaiting retrieves all WAITING commands for a relay, oldest first.
func (r *SQLiteRepository) ListWaiting(ctx context.Context, relayID string) ([]Command, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, relay_id, group_id, device_ids, payload, state, enqueued_at, sent_at, timeout_seconds
		FROM pending_commands
		WHERE relay_id = ? AND state = ?
		ORDER BY enqueued_at, id`, relayID, string(StateWaiting))
	if err != nil {
		return nil, fmt.Errorf("listing waiting commands: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var commands []Command
	for rows.Next() {
		var (
			c         Command
			deviceIDs string
			payload   string
			state     string
		)
		if err := rows.Scan(&c.ID, &c.RelayID, &c.GroupID, &deviceIDs, &payload,
			&state, &c.EnqueuedAt, &c.SentAt, &c.TimeoutSeconds); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if err := json.Unmarshal([]byte(deviceIDs), &c.DeviceIDs); err != nil {
			return nil, fmt.Errorf("unmarshalling device ids: %w", err)
		}
		c.Payload = json.RawMessage(payload)
		c.State = State(state)
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// HasWaiting reports whether at least one WAITING command exists for a relay.
func (r *SQLiteRepository) HasWaiting(ctx context.Context, relayID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pending_commands WHERE relay_id = ? AND state = ?)`,
		relayID, string(StateWaiting)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probing waiting commands: %w", err)
	}
	return exists == 1, nil
}

// MarkSent transitions one command WAITING->SENT inside its own transaction.
func (r *SQLiteRepository) MarkSent(ctx context.Context, commandID string, sentAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting mark-sent: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE pending_commands SET state = ?, sent_at = ?
		WHERE id = ? AND state = ?`,
		string(StateSent), sentAt, commandID, string(StateWaiting))
	if err != nil {
		return fmt.Errorf("marking command sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking command sent: %w", err)
	}
	if n == 0 {
		return ErrNotWaiting
	}
	return tx.Commit()
}

// RecordResult stores the relay-reported outcome for a command.
func (r *SQLiteRepository) RecordResult(ctx context.Context, result Result, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_commands
		SET result_success = ?, result_message = ?, completed_at = ?
		WHERE id = ?`,
		result.Success, result.Message, completedAt, result.CommandID)
	if err != nil {
		return fmt.Errorf("recording result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording result: %w", err)
	}
	if n == 0 {
		return ErrCommandNotFound
	}
	return nil
}
