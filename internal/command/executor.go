package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the executor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Executor dispatches commands against registered systems with bounded
// concurrency.
//
// Thread Safety: Execute is safe for concurrent use; RegisterSystem must
// complete before execution begins.
type Executor struct {
	mu      sync.RWMutex
	systems map[string]System
	sem     chan struct{}
	logger  Logger
}

// NewExecutor creates an executor limited to maxConcurrent simultaneous
// resource tasks across all commands.
func NewExecutor(maxConcurrent int) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		systems: make(map[string]System),
		sem:     make(chan struct{}, maxConcurrent),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
}

// RegisterSystem makes a system addressable by commands.
func (e *Executor) RegisterSystem(sys System) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.systems[sys.ID()] = sys
}

// System returns a registered system by id.
func (e *Executor) System(id string) (System, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sys, ok := e.systems[id]
	return sys, ok
}

// Close closes every registered system.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for id, sys := range e.systems {
		if err := sys.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing system %s: %w", id, err)
		}
		delete(e.systems, id)
	}
	return firstErr
}

// taskOutcome is one resource task's result.
type taskOutcome struct {
	changed bool
	err     error
}

// Execute runs one command.
//
// The named operation is dispatched as an independent task per matching
// resource; the whole command blocks on a single timeout-bounded join. At
// timeout any incomplete task is cancelled through its context; the
// cancellation is best-effort, a remote call already in flight may still
// land and its effect is then unobserved.
//
// The first per-task failure, in resource order, decides the command's
// error: a CommunicationError stays a CommunicationError, everything else
// surfaces as a ControllerError. Without failures the result is the logical
// OR of the per-task changed outcomes.
func (e *Executor) Execute(ctx context.Context, cmd Command) (bool, error) {
	sys, ok := e.System(cmd.SystemID)
	if !ok {
		return false, &ControllerError{
			Reason: fmt.Sprintf("unrecognised target system %q", cmd.SystemID),
		}
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resources := matchResources(sys, cmd)
	if len(resources) == 0 {
		e.logger.Debug("command matched no resources",
			"command_id", cmd.ID,
			"system_id", cmd.SystemID,
			"capability", cmd.Capability,
		)
		return false, nil
	}

	outcomes := make([]taskOutcome, len(resources))
	var wg sync.WaitGroup
	for i, res := range resources {
		wg.Add(1)
		go func(i int, res Resource) {
			defer wg.Done()
			outcomes[i] = e.runTask(ctx, cmd, res)
		}(i, res)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Outstanding tasks observe the cancelled context; their late
		// outcomes are discarded.
		e.logger.Warn("command timed out",
			"command_id", cmd.ID,
			"system_id", cmd.SystemID,
			"timeout", timeout,
		)
		return false, &ControllerError{
			Reason: fmt.Sprintf("command %s timed out after %s", cmd.ID, timeout),
			Err:    ctx.Err(),
		}
	}

	changed := false
	for i, outcome := range outcomes {
		if outcome.err != nil {
			return false, classify(outcome.err, resources[i].ID())
		}
		changed = changed || outcome.changed
	}
	return changed, nil
}

// runTask executes the command's operation on one resource, respecting the
// executor-wide concurrency bound.
func (e *Executor) runTask(ctx context.Context, cmd Command, res Resource) taskOutcome {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return taskOutcome{err: ctx.Err()}
	}

	changed, err := res.Execute(ctx, cmd.Capability, cmd.Operation, cmd.Arguments)
	return taskOutcome{changed: changed, err: err}
}

// matchResources selects the system's resources the command applies to:
// those owning the capability, filtered by the optional allow-list.
func matchResources(sys System, cmd Command) []Resource {
	allowed := make(map[string]bool, len(cmd.ResourceIDs))
	for _, id := range cmd.ResourceIDs {
		allowed[id] = true
	}

	var matched []Resource
	for _, res := range sys.Resources() {
		if len(allowed) > 0 && !allowed[res.ID()] {
			continue
		}
		if !HasCapability(res, cmd.Capability) {
			continue
		}
		matched = append(matched, res)
	}
	return matched
}

// classify maps a task error to the command error taxonomy.
func classify(err error, resourceID string) error {
	var commErr *CommunicationError
	if errors.As(err, &commErr) {
		return commErr
	}
	var ctrlErr *ControllerError
	if errors.As(err, &ctrlErr) {
		return ctrlErr
	}
	return &ControllerError{
		Reason: fmt.Sprintf("operation failed on resource %s", resourceID),
		Err:    err,
	}
}
