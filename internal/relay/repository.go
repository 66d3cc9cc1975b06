package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for relay persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a relay by its unique identifier.
	// Returns ErrRelayNotFound if the relay does not exist.
	GetByID(ctx context.Context, id string) (*Relay, error)

	// Create inserts a new relay.
	Create(ctx context.Context, r *Relay) error

	// UpdateToken rotates the relay's bearer token.
	UpdateToken(ctx context.Context, id, token string) error

	// UpsertDevices stores the device snapshots reported by a relay,
	// inserting new devices and replacing the state of known ones.
	UpsertDevices(ctx context.Context, relayID string, devices []Device) error

	// RelayIDForDevice resolves the relay owning a device.
	// Returns ErrDeviceNotFound if the device is unknown.
	RelayIDForDevice(ctx context.Context, deviceID string) (string, error)

	// ListDevices retrieves the device snapshots for a relay.
	ListDevices(ctx context.Context, relayID string) ([]Device, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a relay by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Relay, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, location_id, name, secret_enc, token, created_at
		FROM relays WHERE id = ?`, id)

	var rel Relay
	err := row.Scan(&rel.ID, &rel.LocationID, &rel.Name, &rel.SecretEnc, &rel.Token, &rel.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRelayNotFound
		}
		return nil, fmt.Errorf("querying relay by id: %w", err)
	}
	return &rel, nil
}

// Create inserts a new relay.
func (r *SQLiteRepository) Create(ctx context.Context, rel *Relay) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relays (id, location_id, name, secret_enc, token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.LocationID, rel.Name, rel.SecretEnc, rel.Token, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting relay: %w", err)
	}
	return nil
}

// UpdateToken rotates the relay's bearer token.
func (r *SQLiteRepository) UpdateToken(ctx context.Context, id, token string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE relays SET token = ? WHERE id = ?`, token, id)
	if err != nil {
		return fmt.Errorf("updating relay token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating relay token: %w", err)
	}
	if n == 0 {
		return ErrRelayNotFound
	}
	return nil
}

// UpsertDevices stores the device snapshots reported by a relay.
func (r *SQLiteRepository) UpsertDevices(ctx context.Context, relayID string, devices []Device) error {
	if len(devices) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting device upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	now := time.Now().UTC()
	for _, d := range devices {
		state := d.State
		if state == nil {
			state = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO devices (id, relay_id, name, state, reported_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				relay_id = excluded.relay_id,
				name = excluded.name,
				state = excluded.state,
				reported_at = excluded.reported_at`,
			d.ID, relayID, d.Name, string(state), now); err != nil {
			return fmt.Errorf("upserting device %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// RelayIDForDevice resolves the relay owning a device.
func (r *SQLiteRepository) RelayIDForDevice(ctx context.Context, deviceID string) (string, error) {
	var relayID string
	err := r.db.QueryRowContext(ctx,
		`SELECT relay_id FROM devices WHERE id = ?`, deviceID).Scan(&relayID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrDeviceNotFound
		}
		return "", fmt.Errorf("resolving device relay: %w", err)
	}
	return relayID, nil
}

// ListDevices retrieves the device snapshots for a relay.
func (r *SQLiteRepository) ListDevices(ctx context.Context, relayID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, relay_id, name, state, reported_at
		FROM devices WHERE relay_id = ? ORDER BY id`, relayID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var devices []Device
	for rows.Next() {
		var d Device
		var state string
		if err := rows.Scan(&d.ID, &d.RelayID, &d.Name, &state, &d.ReportedAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.State = []byte(state)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
