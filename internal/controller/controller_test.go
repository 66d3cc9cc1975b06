package controller

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/greese/imaginary-home-sub000/internal/command"
	"github.com/greese/imaginary-home-sub000/internal/controller/persist"
)

// fakeExecutor records executed commands in order.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []command.Command
	err      error
	changed  bool
}

func (f *fakeExecutor) Execute(_ context.Context, cmd command.Command) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, cmd)
	return f.changed, f.err
}

func (f *fakeExecutor) systemIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.executed))
	for i, cmd := range f.executed {
		ids[i] = cmd.SystemID
	}
	return ids
}

// channelSink delivers every posted result on a channel.
type channelSink struct {
	results chan Result
}

func newChannelSink() *channelSink {
	return &channelSink{results: make(chan Result, 32)}
}

func (s *channelSink) PostResult(_ context.Context, _ string, result Result) {
	s.results <- result
}

func (s *channelSink) next(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-s.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a result")
		return Result{}
	}
}

func payload(systemID string) json.RawMessage {
	return json.RawMessage(`{"systemId":"` + systemID + `","capability":"switch","operation":"on"}`)
}

func newTestController(t *testing.T, exec Executor, sink ResultSink) *Controller {
	t.Helper()

	c, err := New(t.TempDir(), exec, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestQueueDrainsFIFO(t *testing.T) {
	exec := &fakeExecutor{}
	sink := newChannelSink()
	c := newTestController(t, exec, sink)
	c.Start(context.Background())
	defer c.Shutdown(time.Second)

	for _, sys := range []string{"first", "second", "third"} {
		err := c.QueueCommands(CommandList{
			ServiceID: "svc",
			Commands:  []QueuedCommand{{ID: sys, Payload: payload(sys)}},
		})
		if err != nil {
			t.Fatalf("QueueCommands: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		sink.next(t)
	}
	got := exec.systemIDs()
	if len(got) != 3 || got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Errorf("execution order = %v, want [first second third]", got)
	}
}

func TestQueuedTimeoutOverridesPayload(t *testing.T) {
	exec := &fakeExecutor{}
	sink := newChannelSink()
	c := newTestController(t, exec, sink)
	c.Start(context.Background())
	defer c.Shutdown(time.Second)

	// One command carries the timeout assigned at queueing time, the
	// other falls back to the payload default.
	err := c.QueueCommands(CommandList{
		ServiceID: "svc",
		Commands: []QueuedCommand{
			{ID: "bounded", Payload: payload("lights"), TimeoutSeconds: 30},
			{ID: "default", Payload: payload("blinds")},
		},
	})
	if err != nil {
		t.Fatalf("QueueCommands: %v", err)
	}
	sink.next(t)
	sink.next(t)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	timeouts := make(map[string]time.Duration, len(exec.executed))
	for _, cmd := range exec.executed {
		timeouts[cmd.SystemID] = cmd.Timeout
	}
	if timeouts["lights"] != 30*time.Second {
		t.Errorf("overridden timeout = %v, want %v", timeouts["lights"], 30*time.Second)
	}
	if timeouts["blinds"] != command.DefaultTimeout {
		t.Errorf("default timeout = %v, want %v", timeouts["blinds"], command.DefaultTimeout)
	}
}

func TestQueueCommandsAfterShutdown(t *testing.T) {
	c := newTestController(t, &fakeExecutor{}, nil)
	c.Start(context.Background())
	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	err := c.QueueCommands(CommandList{ServiceID: "svc"})
	if !errors.Is(err, ErrShutDown) {
		t.Errorf("error = %v, want ErrShutDown", err)
	}
	if _, err := c.ScheduleCommands(ScheduledCommandList{ExecuteAfter: time.Now().Add(time.Hour)}); !errors.Is(err, ErrShutDown) {
		t.Errorf("schedule error = %v, want ErrShutDown", err)
	}
}

func TestScheduleRejectsPastExecuteAfter(t *testing.T) {
	c := newTestController(t, &fakeExecutor{}, nil)
	c.Start(context.Background())
	defer c.Shutdown(time.Second)

	_, err := c.ScheduleCommands(ScheduledCommandList{
		ServiceID:    "svc",
		ExecuteAfter: time.Now().Add(-time.Minute),
	})
	if !errors.Is(err, ErrPastSchedule) {
		t.Errorf("error = %v, want ErrPastSchedule", err)
	}
}

func TestScheduleTotalOrder(t *testing.T) {
	base := time.Now().Add(time.Hour)
	schedule := []ScheduledCommandList{
		{ScheduleID: "b", ExecuteAfter: base},
		{ScheduleID: "z", ExecuteAfter: base.Add(-time.Minute)},
		{ScheduleID: "a", ExecuteAfter: base},
	}

	sortSchedule(schedule)

	want := []string{"z", "a", "b"}
	for i, batch := range schedule {
		if batch.ScheduleID != want[i] {
			t.Fatalf("order = [%s %s %s], want %v",
				schedule[0].ScheduleID, schedule[1].ScheduleID, schedule[2].ScheduleID, want)
		}
	}
}

func TestSchedulerExecutesDueBatch(t *testing.T) {
	exec := &fakeExecutor{changed: true}
	sink := newChannelSink()
	c := newTestController(t, exec, sink)
	c.Start(context.Background())
	defer c.Shutdown(time.Second)

	_, err := c.ScheduleCommands(ScheduledCommandList{
		ServiceID:    "svc",
		ExecuteAfter: time.Now().Add(50 * time.Millisecond),
		Commands:     []QueuedCommand{{ID: "pending-1", Payload: payload("lights")}},
	})
	if err != nil {
		t.Fatalf("ScheduleCommands: %v", err)
	}

	result := sink.next(t)
	if result.CommandID != "pending-1" {
		t.Errorf("result command id = %q, want %q", result.CommandID, "pending-1")
	}
	if !result.Success || !result.Changed {
		t.Errorf("result = %+v, want success and changed", result)
	}

	c.mu.Lock()
	remaining := len(c.schedule)
	c.mu.Unlock()
	if remaining != 0 {
		t.Errorf("schedule still holds %d batches after execution", remaining)
	}
}

func TestCancelScheduledCommandsRemovesFirstMatchOnly(t *testing.T) {
	c := newTestController(t, &fakeExecutor{}, nil)
	c.Start(context.Background())
	defer c.Shutdown(time.Second)

	later := time.Now().Add(time.Hour)
	for i, id := range []string{"s1", "s2"} {
		_, err := c.ScheduleCommands(ScheduledCommandList{
			ScheduleID:   id,
			ServiceID:    "svc",
			ExecuteAfter: later.Add(time.Duration(i) * time.Minute),
			Commands:     []QueuedCommand{{ID: "shared-cmd", Payload: payload("lights")}},
		})
		if err != nil {
			t.Fatalf("ScheduleCommands: %v", err)
		}
	}

	if err := c.CancelScheduledCommands("shared-cmd"); err != nil {
		t.Fatalf("CancelScheduledCommands: %v", err)
	}

	c.mu.Lock()
	remaining := make([]string, len(c.schedule))
	for i, batch := range c.schedule {
		remaining[i] = batch.ScheduleID
	}
	c.mu.Unlock()
	if len(remaining) != 1 || remaining[0] != "s2" {
		t.Errorf("remaining schedule = %v, want [s2]", remaining)
	}

	if err := c.CancelScheduledCommands("missing"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("error = %v, want ErrScheduleNotFound", err)
	}
}

func TestParseFailureProducesSyntheticResult(t *testing.T) {
	sink := newChannelSink()
	c := newTestController(t, &fakeExecutor{}, sink)
	c.Start(context.Background())
	defer c.Shutdown(time.Second)

	err := c.QueueCommands(CommandList{
		ServiceID: "svc",
		Commands:  []QueuedCommand{{ID: "pending-9", Payload: json.RawMessage(`{broken`)}},
	})
	if err != nil {
		t.Fatalf("QueueCommands: %v", err)
	}

	result := sink.next(t)
	if result.CommandID != "pending-9" {
		t.Errorf("command id = %q, want %q", result.CommandID, "pending-9")
	}
	if result.Success {
		t.Error("synthetic result for an unparseable payload must be a failure")
	}
	if result.Message == "" {
		t.Error("synthetic result should carry the parse error")
	}
}

func TestNewCreatesStateDirectory(t *testing.T) {
	// Fresh install: the configured state directory does not exist yet and
	// the first accepted batch must still persist.
	dir := filepath.Join(t.TempDir(), "relay", "state")

	c, err := New(dir, &fakeExecutor{}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Start(context.Background())
	defer c.Shutdown(time.Second)

	if _, err := c.ScheduleCommands(ScheduledCommandList{
		ScheduleID:   "s1",
		ServiceID:    "svc",
		ExecuteAfter: time.Now().Add(time.Hour).UTC(),
		Commands:     []QueuedCommand{{ID: "c1", Payload: payload("lights")}},
	}); err != nil {
		t.Fatalf("ScheduleCommands: %v", err)
	}

	var onDisk []ScheduledCommandList
	if err := persist.Load(filepath.Join(dir, ScheduleFile), &onDisk); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(onDisk) != 1 || onDisk[0].ScheduleID != "s1" {
		t.Errorf("persisted schedule = %+v, want the accepted batch", onDisk)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	queued := []CommandList{{ServiceID: "svc", Commands: []QueuedCommand{{ID: "q1", Payload: payload("lights")}}}}
	scheduled := []ScheduledCommandList{{
		ScheduleID:   "s1",
		ServiceID:    "svc",
		ExecuteAfter: time.Now().Add(time.Hour).UTC(),
		Commands:     []QueuedCommand{{ID: "c1", Payload: payload("lights")}},
	}}
	if err := persist.Save(dir+"/"+QueueFile, queued); err != nil {
		t.Fatalf("Save queue: %v", err)
	}
	if err := persist.Save(dir+"/"+ScheduleFile, scheduled); err != nil {
		t.Fatalf("Save schedule: %v", err)
	}

	c, err := New(dir, &fakeExecutor{}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(c.queue) != 1 || c.queue[0].Commands[0].ID != "q1" {
		t.Errorf("reloaded queue = %+v, want the persisted batch", c.queue)
	}
	if len(c.schedule) != 1 || c.schedule[0].ScheduleID != "s1" {
		t.Errorf("reloaded schedule = %+v, want the persisted batch", c.schedule)
	}
}

func TestShutdownPersistsQueuedBatches(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir, &fakeExecutor{}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Start(context.Background())

	// A batch queued and immediately shut down either drains or persists;
	// after restart nothing may be silently lost or duplicated.
	if err := c.QueueCommands(CommandList{ServiceID: "svc", Commands: []QueuedCommand{{ID: "q1", Payload: payload("lights")}}}); err != nil {
		t.Fatalf("QueueCommands: %v", err)
	}
	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	var onDisk []CommandList
	if err := persist.Load(dir+"/"+QueueFile, &onDisk); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(onDisk) > 1 {
		t.Errorf("queue on disk holds %d batches, want at most 1", len(onDisk))
	}
}
