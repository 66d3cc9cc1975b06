// Package database provides the SQLite connection used by the hub's
// persistent store: locations, relays, devices, and pending commands.
//
// It wraps database/sql with lifecycle management, health checks, and
// embedded schema migrations.
package database
