// Package controller implements the in-home controller's durable work
// intake: an immediate FIFO of command batches and a time-ordered schedule
// of future batches, both persisted as JSON documents through the atomic
// writer in the persist subpackage.
//
// One Controller owns both structures under a single coarse lock together
// with the running flag and the configuration hot-reload check. Two worker
// loops drain them: the queue worker pops batches in FIFO order, the
// scheduler loop pops entries as their execution time arrives, persisting
// the shortened document before execution begins so a crash cannot
// redeliver a popped batch.
//
// Every command in a batch produces exactly one result for the batch's
// originating service, including a synthetic failure result for payloads
// that do not parse.
package controller
