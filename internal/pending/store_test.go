package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockRepository is an in-memory implementation of Repository for testing.
type mockRepository struct {
	commands map[string]*Command
	order    []string
	mu       sync.RWMutex

	// failMarkSent lists command ids whose MarkSent call should fail.
	failMarkSent map[string]bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		commands:     make(map[string]*Command),
		failMarkSent: make(map[string]bool),
	}
}

func (m *mockRepository) Create(_ context.Context, commands []Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range commands {
		cp := c
		m.commands[c.ID] = &cp
		m.order = append(m.order, c.ID)
	}
	return nil
}

func (m *mockRepository) ListWaiting(_ context.Context, relayID string) ([]Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Command
	for _, id := range m.order {
		c := m.commands[id]
		if c.RelayID == relayID && c.State == StateWaiting {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockRepository) HasWaiting(_ context.Context, relayID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.commands {
		if c.RelayID == relayID && c.State == StateWaiting {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) MarkSent(_ context.Context, commandID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarkSent[commandID] {
		return ErrNotWaiting
	}
	c, ok := m.commands[commandID]
	if !ok || c.State != StateWaiting {
		return ErrNotWaiting
	}
	c.State = StateSent
	c.SentAt = &sentAt
	return nil
}

func (m *mockRepository) RecordResult(_ context.Context, result Result, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[result.CommandID]; !ok {
		return ErrCommandNotFound
	}
	return nil
}

// mockResolver maps device ids to relay ids.
type mockResolver struct {
	owners map[string]string
}

func (m *mockResolver) RelayIDForDevice(_ context.Context, deviceID string) (string, error) {
	relayID, ok := m.owners[deviceID]
	if !ok {
		return "", errors.New("unknown device")
	}
	return relayID, nil
}

func payloads(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out
}

func newTestStore(owners map[string]string) (*Store, *mockRepository) {
	repo := newMockRepository()
	store := NewStore(repo, &mockResolver{owners: owners})
	return store, repo
}

func TestQueueCreatesRelayTimesPayloadCommands(t *testing.T) {
	// Devices spanning 2 relays, 3 payloads: expect 2*3 = 6 commands.
	store, _ := newTestStore(map[string]string{
		"dev-a": "relay-1",
		"dev-b": "relay-1",
		"dev-c": "relay-2",
	})

	created, err := store.Queue(context.Background(), time.Minute,
		payloads(`{"op":1}`, `{"op":2}`, `{"op":3}`),
		[]string{"dev-a", "dev-b", "dev-c"})
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}

	if len(created) != 6 {
		t.Fatalf("commands created: got %d, want 6", len(created))
	}

	groupID := created[0].GroupID
	ids := make(map[string]bool)
	perRelay := make(map[string]int)
	for _, c := range created {
		if c.State != StateWaiting {
			t.Errorf("command %s: state %s, want WAITING", c.ID, c.State)
		}
		if c.GroupID != groupID {
			t.Errorf("command %s: group %s, want shared %s", c.ID, c.GroupID, groupID)
		}
		if c.TimeoutSeconds != 60 {
			t.Errorf("command %s: timeout %d, want 60", c.ID, c.TimeoutSeconds)
		}
		if ids[c.ID] {
			t.Errorf("duplicate command id %s", c.ID)
		}
		ids[c.ID] = true
		perRelay[c.RelayID]++
	}
	if perRelay["relay-1"] != 3 || perRelay["relay-2"] != 3 {
		t.Errorf("per-relay distribution: %v", perRelay)
	}

	// relay-1 commands carry both of its devices.
	for _, c := range created {
		if c.RelayID == "relay-1" && len(c.DeviceIDs) != 2 {
			t.Errorf("relay-1 command device ids: %v", c.DeviceIDs)
		}
	}
}

func TestQueueRejectsEmptyDevices(t *testing.T) {
	store, _ := newTestStore(nil)
	_, err := store.Queue(context.Background(), time.Minute, payloads(`{}`), nil)
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
}

func TestHasCommandsTracksWaitingState(t *testing.T) {
	store, _ := newTestStore(map[string]string{"dev-a": "relay-1"})
	ctx := context.Background()

	has, err := store.HasCommands(ctx, "relay-1")
	if err != nil {
		t.Fatalf("HasCommands: %v", err)
	}
	if has {
		t.Error("empty store should report no commands")
	}

	if _, err := store.Queue(ctx, time.Minute, payloads(`{}`), []string{"dev-a"}); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	has, _ = store.HasCommands(ctx, "relay-1")
	if !has {
		t.Error("expected commands for relay-1")
	}
	has, _ = store.HasCommands(ctx, "relay-2")
	if has {
		t.Error("relay-2 should see nothing")
	}

	// Fetch with markSent drains the WAITING set.
	if _, err := store.CommandsToSend(ctx, "relay-1", true); err != nil {
		t.Fatalf("CommandsToSend: %v", err)
	}
	has, _ = store.HasCommands(ctx, "relay-1")
	if has {
		t.Error("all commands SENT: probe should be false")
	}
}

func TestCommandsToSendMarksSent(t *testing.T) {
	store, repo := newTestStore(map[string]string{"dev-a": "relay-1"})
	ctx := context.Background()

	created, _ := store.Queue(ctx, time.Minute, payloads(`{"a":1}`, `{"b":2}`), []string{"dev-a"})

	got, err := store.CommandsToSend(ctx, "relay-1", true)
	if err != nil {
		t.Fatalf("CommandsToSend: %v", err)
	}
	if len(got) != len(created) {
		t.Fatalf("fetched %d, want %d", len(got), len(created))
	}
	for _, c := range got {
		if c.State != StateSent || c.SentAt == nil {
			t.Errorf("command %s not marked sent", c.ID)
		}
		if repo.commands[c.ID].State != StateSent {
			t.Errorf("command %s not persisted as SENT", c.ID)
		}
	}
}

func TestCommandsToSendWithoutMarking(t *testing.T) {
	store, repo := newTestStore(map[string]string{"dev-a": "relay-1"})
	ctx := context.Background()

	store.Queue(ctx, time.Minute, payloads(`{}`), []string{"dev-a"}) //nolint:errcheck

	got, err := store.CommandsToSend(ctx, "relay-1", false)
	if err != nil {
		t.Fatalf("CommandsToSend: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("fetched %d, want 1", len(got))
	}
	if repo.commands[got[0].ID].State != StateWaiting {
		t.Error("peek fetch must not transition state")
	}
}

func TestCommandsToSendPartialFailure(t *testing.T) {
	// If exactly one item fails its transition, the returned set is total-1
	// and that item remains WAITING.
	store, repo := newTestStore(map[string]string{"dev-a": "relay-1"})
	ctx := context.Background()

	created, _ := store.Queue(ctx, time.Minute,
		payloads(`{"a":1}`, `{"b":2}`, `{"c":3}`), []string{"dev-a"})
	failing := created[1].ID
	repo.failMarkSent[failing] = true

	got, err := store.CommandsToSend(ctx, "relay-1", true)
	if err != nil {
		t.Fatalf("CommandsToSend: %v", err)
	}
	if len(got) != len(created)-1 {
		t.Fatalf("fetched %d, want %d", len(got), len(created)-1)
	}
	for _, c := range got {
		if c.ID == failing {
			t.Error("failing item should be excluded from the batch")
		}
	}
	if repo.commands[failing].State != StateWaiting {
		t.Error("failing item should remain WAITING")
	}
}

func TestRecordResult(t *testing.T) {
	store, _ := newTestStore(map[string]string{"dev-a": "relay-1"})
	ctx := context.Background()

	created, _ := store.Queue(ctx, time.Minute, payloads(`{}`), []string{"dev-a"})

	if err := store.RecordResult(ctx, Result{CommandID: created[0].ID, Success: true}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if err := store.RecordResult(ctx, Result{CommandID: "nope"}); !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound, got %v", err)
	}
}
