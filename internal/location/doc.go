// Package location manages Locations and the pairing flow that bootstraps
// relay credentials.
//
// A Location is a physical site owning one or more relays. It starts
// unpaired; ReadyForPairing issues a short-lived single-use pairing code, and
// a successful Pair consumes the code, mints the location secret, and marks
// the location paired:
//
//	UNPAIRED --ReadyForPairing--> PENDING(code, expiry) --Pair--> PAIRED
//
// An expired pending code is not actively swept - it is rejected lazily on
// the next pairing attempt and a fresh code may be requested.
package location
