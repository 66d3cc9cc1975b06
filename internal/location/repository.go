package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for location persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a location by its unique identifier.
	// Returns ErrLocationNotFound if the location does not exist.
	GetByID(ctx context.Context, id string) (*Location, error)

	// GetByPairingCode retrieves the location holding an unconsumed pairing code.
	// Returns ErrLocationNotFound if no location holds the code.
	GetByPairingCode(ctx context.Context, code string) (*Location, error)

	// CodeInUse reports whether any location currently holds the given
	// unconsumed pairing code.
	CodeInUse(ctx context.Context, code string) (bool, error)

	// Create inserts a new location.
	Create(ctx context.Context, loc *Location) error

	// SetPairingCode stores a fresh code and expiry on an unpaired location.
	SetPairingCode(ctx context.Context, id, code string, expiresAt time.Time) error

	// MarkPaired consumes the pairing code: stores the encrypted secret,
	// clears the code and expiry, and sets paired. The update is conditional
	// on the location still being unpaired and still holding the code, so a
	// code is consumable at most once. Returns ErrPairingFailed when the
	// condition no longer holds.
	MarkPaired(ctx context.Context, id, code, secretEnc string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const locationColumns = `id, name, paired, pairing_code, pairing_expires_at, secret_enc, created_at`

// GetByID retrieves a location by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = ?`
	loc, err := scanLocation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("querying location by id: %w", err)
	}
	return loc, nil
}

// GetByPairingCode retrieves the location holding an unconsumed pairing code.
func (r *SQLiteRepository) GetByPairingCode(ctx context.Context, code string) (*Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE pairing_code = ?`
	loc, err := scanLocation(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("querying location by pairing code: %w", err)
	}
	return loc, nil
}

// CodeInUse reports whether any location currently holds the given code.
func (r *SQLiteRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM locations WHERE pairing_code = ?)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking pairing code: %w", err)
	}
	return exists == 1, nil
}

// Create inserts a new location.
func (r *SQLiteRepository) Create(ctx context.Context, loc *Location) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO locations (id, name, paired, pairing_code, pairing_expires_at, secret_enc, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		loc.ID, loc.Name, loc.Paired, loc.PairingCode, loc.PairingExpiresAt,
		loc.SecretEnc, loc.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting location: %w", err)
	}
	return nil
}

// SetPairingCode stores a fresh code and expiry on an unpaired location.
func (r *SQLiteRepository) SetPairingCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE locations SET pairing_code = ?, pairing_expires_at = ?
		WHERE id = ? AND paired = 0`,
		code, expiresAt, id)
	if err != nil {
		return fmt.Errorf("setting pairing code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting pairing code: %w", err)
	}
	if n == 0 {
		return ErrAlreadyPaired
	}
	return nil
}

// MarkPaired consumes the pairing code and stores the encrypted secret.
func (r *SQLiteRepository) MarkPaired(ctx context.Context, id, code, secretEnc string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE locations
		SET paired = 1, secret_enc = ?, pairing_code = NULL, pairing_expires_at = NULL
		WHERE id = ? AND pairing_code = ? AND paired = 0`,
		secretEnc, id, code)
	if err != nil {
		return fmt.Errorf("marking location paired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking location paired: %w", err)
	}
	if n == 0 {
		return ErrPairingFailed
	}
	return nil
}

// scanLocation scans a location row.
func scanLocation(row *sql.Row) (*Location, error) {
	var loc Location
	err := row.Scan(&loc.ID, &loc.Name, &loc.Paired, &loc.PairingCode,
		&loc.PairingExpiresAt, &loc.SecretEnc, &loc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
