package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/greese/imaginary-home-sub000/internal/infrastructure/secrets"
)

// Service wraps the repository with credential handling: relay creation for
// the pairing flow, secret decryption for envelope verification, and bearer
// token rotation.
type Service struct {
	repo        Repository
	cipher      *secrets.Cipher
	tokenSecret []byte
	tokenTTL    time.Duration
}

// NewService creates a relay service.
//
// tokenSecret signs bearer tokens (HMAC-SHA256); tokenTTL is their lifetime.
func NewService(repo Repository, cipher *secrets.Cipher, tokenSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		repo:        repo,
		cipher:      cipher,
		tokenSecret: []byte(tokenSecret),
		tokenTTL:    tokenTTL,
	}
}

// CreateRelay registers a new relay under a location. The secret arrives
// already encrypted from the pairing flow. Satisfies location.RelayCreator.
func (s *Service) CreateRelay(ctx context.Context, locationID, name, secretEnc string) (string, error) {
	rel := &Relay{
		ID:         uuid.NewString(),
		LocationID: locationID,
		Name:       name,
		SecretEnc:  secretEnc,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, rel); err != nil {
		return "", err
	}
	return rel.ID, nil
}

// Credentials resolves a relay's shared secret and current bearer token for
// envelope verification.
func (s *Service) Credentials(ctx context.Context, relayID string) (secret, token string, err error) {
	rel, err := s.repo.GetByID(ctx, relayID)
	if err != nil {
		return "", "", err
	}
	secret, err = s.cipher.Decrypt(rel.SecretEnc)
	if err != nil {
		return "", "", fmt.Errorf("decrypting relay secret: %w", err)
	}
	return secret, rel.Token, nil
}

// ExchangeToken mints a fresh bearer token for a relay and rotates the
// stored one. The previous token stops verifying immediately.
func (s *Service) ExchangeToken(ctx context.Context, relayID string) (string, error) {
	rel, err := s.repo.GetByID(ctx, relayID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   rel.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		ID:        uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.tokenSecret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	if err := s.repo.UpdateToken(ctx, rel.ID, token); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateToken checks a bearer token's signature and expiry and returns the
// relay id it was issued to. Returns ErrInvalidToken on any failure.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.tokenSecret, nil
		})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ReportDevices stores the device snapshots from a relay update.
func (s *Service) ReportDevices(ctx context.Context, relayID string, devices []Device) error {
	if _, err := s.repo.GetByID(ctx, relayID); err != nil {
		return err
	}
	return s.repo.UpsertDevices(ctx, relayID, devices)
}
