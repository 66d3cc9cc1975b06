package relay

import (
	"encoding/json"
	"time"
)

// Relay represents one in-home controller process registered with the hub.
//
// SecretEnc holds the relay's shared HMAC secret in encrypted form. Token is
// the current bearer token; it rotates on every token exchange and is empty
// until the first exchange.
type Relay struct {
	ID         string    `json:"id"`
	LocationID string    `json:"locationId"`
	Name       string    `json:"name"`
	SecretEnc  string    `json:"-"`
	Token      string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Device is the last state snapshot a relay reported for one of its devices.
type Device struct {
	ID         string          `json:"id"`
	RelayID    string          `json:"relayId"`
	Name       string          `json:"name"`
	State      json.RawMessage `json:"state"`
	ReportedAt time.Time       `json:"reportedAt"`
}
