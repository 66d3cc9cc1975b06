// Package pending implements the hub-side queue of commands awaiting
// pull-delivery to relays.
//
// Commands are created in state WAITING and transition to SENT when a relay
// fetches them. The transition happens per item inside its own transaction,
// so one failing item never aborts a batch. A SENT command is not redelivered
// if the relay crashes before executing it; delivery is at most once.
package pending
