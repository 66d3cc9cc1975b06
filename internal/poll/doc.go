// Package poll drives the controller's pull side of the cloud protocol.
//
// A Client signs every request with the relay's credentials, performs the
// bearer token exchange, and retries exactly once after an authentication
// failure. A Loop runs per paired cloud service: it alternates cheap
// pending-command probes with periodic full state pushes, fetches signalled
// commands into the local queue, and adapts its wait between a fast
// interval when work arrived and a doubling backoff capped at one minute
// when nothing did. Transport failures are logged and never stop the loop.
package poll
