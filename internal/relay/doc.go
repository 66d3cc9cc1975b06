// Package relay manages ControllerRelay records on the hub side: the
// credentials minted at pairing time, the rotating bearer token, and the
// device snapshots each relay reports.
//
// Relays are created only through the pairing flow and never deleted.
package relay
