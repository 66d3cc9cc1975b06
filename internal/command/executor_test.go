package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeResource implements Resource with a scripted outcome.
type fakeResource struct {
	id           string
	capabilities []string

	mu      sync.Mutex
	calls   int
	changed bool
	err     error
	delay   time.Duration
}

func (r *fakeResource) ID() string { return r.id }

func (r *fakeResource) Capabilities() []string { return r.capabilities }

func (r *fakeResource) Execute(ctx context.Context, _, _ string, _ map[string]any) (bool, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return r.changed, r.err
}

func (r *fakeResource) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeSystem implements System over a fixed resource set.
type fakeSystem struct {
	id        string
	resources []Resource
}

func (s *fakeSystem) ID() string            { return s.id }
func (s *fakeSystem) Resources() []Resource { return s.resources }
func (s *fakeSystem) Close() error          { return nil }

func newTestExecutor(resources ...Resource) *Executor {
	e := NewExecutor(4)
	e.RegisterSystem(&fakeSystem{id: "lights", resources: resources})
	return e
}

func lightingCommand(resourceIDs ...string) Command {
	return Command{
		ID:          "cmd-1",
		SystemID:    "lights",
		Capability:  "switch",
		Operation:   "on",
		ResourceIDs: resourceIDs,
		Timeout:     time.Second,
	}
}

func TestExecuteUnknownSystem(t *testing.T) {
	e := newTestExecutor()

	_, err := e.Execute(context.Background(), Command{SystemID: "nope", Operation: "on"})

	var ctrlErr *ControllerError
	if !errors.As(err, &ctrlErr) {
		t.Fatalf("expected ControllerError, got %v", err)
	}
}

func TestExecuteChangedIsORofOutcomes(t *testing.T) {
	a := &fakeResource{id: "a", capabilities: []string{"switch"}, changed: false}
	b := &fakeResource{id: "b", capabilities: []string{"switch"}, changed: true}
	e := newTestExecutor(a, b)

	changed, err := e.Execute(context.Background(), lightingCommand())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !changed {
		t.Error("changed = false, want true (one resource changed)")
	}
	if a.callCount() != 1 || b.callCount() != 1 {
		t.Errorf("call counts = %d, %d, want 1, 1", a.callCount(), b.callCount())
	}
}

func TestExecuteResourceAllowList(t *testing.T) {
	a := &fakeResource{id: "a", capabilities: []string{"switch"}}
	b := &fakeResource{id: "b", capabilities: []string{"switch"}}
	e := newTestExecutor(a, b)

	if _, err := e.Execute(context.Background(), lightingCommand("b")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if a.callCount() != 0 {
		t.Error("resource outside the allow-list was executed")
	}
	if b.callCount() != 1 {
		t.Error("allow-listed resource was not executed")
	}
}

func TestExecuteSkipsResourcesWithoutCapability(t *testing.T) {
	a := &fakeResource{id: "a", capabilities: []string{"thermostat"}}
	e := newTestExecutor(a)

	changed, err := e.Execute(context.Background(), lightingCommand())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if changed || a.callCount() != 0 {
		t.Error("resource without the capability should not run")
	}
}

func TestExecuteFirstFailureWins(t *testing.T) {
	commFailure := &CommunicationError{Op: "publish", StatusCode: 503, Err: errors.New("broker gone")}
	a := &fakeResource{id: "a", capabilities: []string{"switch"}, err: commFailure}
	b := &fakeResource{id: "b", capabilities: []string{"switch"}, changed: true}
	e := newTestExecutor(a, b)

	_, err := e.Execute(context.Background(), lightingCommand())
	if !IsCommunication(err) {
		t.Fatalf("expected CommunicationError, got %v", err)
	}
}

func TestExecuteUnclassifiedErrorBecomesControllerError(t *testing.T) {
	a := &fakeResource{id: "a", capabilities: []string{"switch"}, err: fmt.Errorf("boom")}
	e := newTestExecutor(a)

	_, err := e.Execute(context.Background(), lightingCommand())

	var ctrlErr *ControllerError
	if !errors.As(err, &ctrlErr) {
		t.Fatalf("expected ControllerError, got %v", err)
	}
}

func TestExecuteTimeoutCancelsTasks(t *testing.T) {
	slow := &fakeResource{id: "slow", capabilities: []string{"switch"}, delay: 5 * time.Second}
	e := newTestExecutor(slow)

	cmd := lightingCommand()
	cmd.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := e.Execute(context.Background(), cmd)
	elapsed := time.Since(start)

	var ctrlErr *ControllerError
	if !errors.As(err, &ctrlErr) {
		t.Fatalf("expected ControllerError on timeout, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Execute blocked %s, want a bounded join near the 50ms timeout", elapsed)
	}
}

func TestParseDefaults(t *testing.T) {
	payload := json.RawMessage(`{"systemId":"lights","capability":"switch","operation":"on"}`)

	cmd, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.ID == "" {
		t.Error("expected a generated command id")
	}
	if cmd.Timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want %s", cmd.Timeout, DefaultTimeout)
	}
}

func TestParseRejectsIncompletePayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{"systemId":`},
		{"missing system", `{"operation":"on"}`},
		{"missing operation", `{"systemId":"lights"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(json.RawMessage(tc.payload))

			var ctrlErr *ControllerError
			if !errors.As(err, &ctrlErr) {
				t.Fatalf("expected ControllerError, got %v", err)
			}
		})
	}
}

func TestRegistryBuildUnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Build(SystemConfig{ID: "sys-1", Type: "zigbee"})

	var ctrlErr *ControllerError
	if !errors.As(err, &ctrlErr) {
		t.Fatalf("expected ControllerError, got %v", err)
	}
}

func TestRegistryBuildDispatchesByTag(t *testing.T) {
	r := NewRegistry()
	r.Register("fake", func(cfg SystemConfig) (System, error) {
		return &fakeSystem{id: cfg.ID}, nil
	})

	sys, err := r.Build(SystemConfig{ID: "sys-1", Type: "fake"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sys.ID() != "sys-1" {
		t.Errorf("system id = %q, want %q", sys.ID(), "sys-1")
	}
}
