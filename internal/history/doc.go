// Package history records command execution outcomes to InfluxDB.
//
// One point is written per executed command (measurement command_result,
// tagged by system and capability), giving the installation a queryable
// execution history. The recorder is optional: when the history section of
// the configuration is disabled the controller runs without it.
//
// Writes are non-blocking and batched by the client library; a write
// failure is reported through the error callback and never blocks command
// execution.
package history
