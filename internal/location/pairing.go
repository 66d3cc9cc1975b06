package location

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/greese/imaginary-home-sub000/internal/infrastructure/secrets"
)

// Pairing code generation constants.
const (
	// codeAlphabet excludes visually ambiguous characters (I, O, 0, 1).
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// codeLength is within the 10-20 character envelope the protocol allows.
	codeLength = 12

	// maxCodeAttempts bounds the uniqueness-check-and-retry loop. Collisions
	// over a 32^12 space are treated as negligible; the bound is a safety net.
	maxCodeAttempts = 5
)

// Logger defines the logging interface used by the pairing service.
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

// RelayCreator creates a controller relay under a freshly paired location.
// Implemented by the relay package; declared here to keep the dependency
// pointing outward.
type RelayCreator interface {
	CreateRelay(ctx context.Context, locationID, name, secretEnc string) (relayID string, err error)
}

// PairResult is returned by a successful Pair call. Secret is the plaintext
// location secret, available exactly once.
type PairResult struct {
	LocationID string
	Secret     string
}

// RelayPairResult is returned by a successful PairRelay call. Secret is the
// plaintext relay secret, available exactly once.
type RelayPairResult struct {
	LocationID string
	RelayID    string
	Secret     string
}

// PairingService implements the pairing handshake.
type PairingService struct {
	repo   Repository
	relays RelayCreator
	cipher *secrets.Cipher
	logger Logger
	now    func() time.Time
}

// NewPairingService creates a pairing service.
// The relays creator may be nil when relay creation is handled elsewhere.
func NewPairingService(repo Repository, relays RelayCreator, cipher *secrets.Cipher) *PairingService {
	return &PairingService{
		repo:   repo,
		relays: relays,
		cipher: cipher,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *PairingService) SetLogger(logger Logger) {
	s.logger = logger
}

// ReadyForPairing issues a fresh pairing code for an unpaired location.
//
// The code is drawn from an alphabet without visually ambiguous characters,
// does not collide with any other currently unconsumed code, and expires
// five minutes from now. The previous code, if any, is replaced.
//
// Returns ErrAlreadyPaired for a paired location and ErrCodeCollision when a
// unique code could not be generated within the bounded retry count.
func (s *PairingService) ReadyForPairing(ctx context.Context, locationID string) (string, error) {
	loc, err := s.repo.GetByID(ctx, locationID)
	if err != nil {
		return "", err
	}
	if loc.Paired {
		return "", ErrAlreadyPaired
	}

	code, err := s.generateCode(ctx)
	if err != nil {
		return "", err
	}

	expiresAt := s.now().UTC().Add(PairingTTL)
	if err := s.repo.SetPairingCode(ctx, locationID, code, expiresAt); err != nil {
		return "", err
	}

	s.logger.Info("pairing code issued", "location_id", locationID, "expires_at", expiresAt)
	return code, nil
}

// Pair claims a pairing code for its location.
//
// On success it mints a fresh location secret, marks the location paired,
// consumes the code, and returns the plaintext secret exactly once (it is
// stored only in encrypted form thereafter).
//
// Returns ErrPairingFailed if the code is unknown, expired, or the location
// is already paired. A replay of a consumed code therefore fails.
func (s *PairingService) Pair(ctx context.Context, code string) (*PairResult, error) {
	loc, err := s.lookupClaimable(ctx, code)
	if err != nil {
		return nil, err
	}

	secret, secretEnc, err := s.mintSecret()
	if err != nil {
		return nil, err
	}

	if err := s.repo.MarkPaired(ctx, loc.ID, code, secretEnc); err != nil {
		return nil, err
	}

	s.logger.Info("location paired", "location_id", loc.ID)
	return &PairResult{LocationID: loc.ID, Secret: secret}, nil
}

// PairRelay claims a pairing code and additionally creates a controller
// relay under the now-paired location, with its own independently generated
// secret. Returns the relay id and its plaintext secret exactly once.
//
// The relay is created before the code is consumed, so a failed relay
// insert leaves the location unpaired and the code claimable again. The
// reverse failure leaves an orphan relay whose credentials were never
// handed out; that is inert, a paired location with no relay is not.
func (s *PairingService) PairRelay(ctx context.Context, code, relayName string) (*RelayPairResult, error) {
	if s.relays == nil {
		return nil, fmt.Errorf("location: relay creation unavailable")
	}

	loc, err := s.lookupClaimable(ctx, code)
	if err != nil {
		return nil, err
	}

	_, locationSecretEnc, err := s.mintSecret()
	if err != nil {
		return nil, err
	}
	relaySecret, relaySecretEnc, err := s.mintSecret()
	if err != nil {
		return nil, err
	}

	relayID, err := s.relays.CreateRelay(ctx, loc.ID, relayName, relaySecretEnc)
	if err != nil {
		return nil, fmt.Errorf("creating relay: %w", err)
	}

	if err := s.repo.MarkPaired(ctx, loc.ID, code, locationSecretEnc); err != nil {
		return nil, err
	}

	s.logger.Info("relay created via pairing",
		"location_id", loc.ID,
		"relay_id", relayID,
		"name", relayName,
	)
	return &RelayPairResult{
		LocationID: loc.ID,
		RelayID:    relayID,
		Secret:     relaySecret,
	}, nil
}

// CreateLocation registers a new, unpaired location. Called at signup.
func (s *PairingService) CreateLocation(ctx context.Context, name string) (*Location, error) {
	loc := &Location{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, loc); err != nil {
		return nil, err
	}
	s.logger.Info("location created", "location_id", loc.ID, "name", name)
	return loc, nil
}

// lookupClaimable resolves a code to a location still eligible for pairing.
// Expired codes are rejected here; they are never actively swept.
func (s *PairingService) lookupClaimable(ctx context.Context, code string) (*Location, error) {
	if code == "" {
		return nil, ErrPairingFailed
	}

	loc, err := s.repo.GetByPairingCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			return nil, ErrPairingFailed
		}
		return nil, err
	}
	if loc.Paired {
		return nil, ErrPairingFailed
	}
	if loc.CodeExpired(s.now().UTC()) {
		s.logger.Debug("pairing attempt with expired code", "location_id", loc.ID)
		return nil, ErrPairingFailed
	}
	return loc, nil
}

// mintSecret generates a fresh plaintext secret and its encrypted form.
func (s *PairingService) mintSecret() (plaintext, encrypted string, err error) {
	plaintext, err = secrets.GenerateSecret()
	if err != nil {
		return "", "", err
	}
	encrypted, err = s.cipher.Encrypt(plaintext)
	if err != nil {
		return "", "", err
	}
	return plaintext, encrypted, nil
}

// generateCode produces a pairing code unique among unconsumed codes,
// retrying a bounded number of times on collision.
func (s *PairingService) generateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		inUse, err := s.repo.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
		s.logger.Warn("pairing code collision", "attempt", attempt+1)
	}
	return "", ErrCodeCollision
}

// randomCode draws codeLength characters from codeAlphabet using crypto/rand.
func randomCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating pairing code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
