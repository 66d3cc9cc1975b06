package location

import "time"

// PairingTTL is how long a pairing code remains valid after issue.
const PairingTTL = 5 * time.Minute

// Location represents a physical site owning relays and devices.
//
// SecretEnc holds the location's shared secret in encrypted form; the
// plaintext is returned exactly once, at pairing time.
type Location struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Paired           bool       `json:"paired"`
	PairingCode      *string    `json:"-"`
	PairingExpiresAt *time.Time `json:"-"`
	SecretEnc        string     `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// PairingPending reports whether the location currently holds an unconsumed
// pairing code (which may have expired).
func (l *Location) PairingPending() bool {
	return l.PairingCode != nil && *l.PairingCode != ""
}

// CodeExpired reports whether the pairing code's expiry has passed at now.
func (l *Location) CodeExpired(now time.Time) bool {
	return l.PairingExpiresAt == nil || now.After(*l.PairingExpiresAt)
}
