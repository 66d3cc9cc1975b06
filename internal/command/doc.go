// Package command defines the controller's runtime command unit and the
// executor that dispatches it against capability-owning resources.
//
// A Command targets one automation system and names a capability operation
// to run on some or all of that system's resources. The Executor fans the
// operation out as one cancellable task per resource, bounds the whole
// command by its timeout, and reduces the per-resource outcomes to a single
// changed/error result.
//
// Systems are built through a static Registry mapping a type tag to a
// constructor; no dynamic loading is involved.
package command
