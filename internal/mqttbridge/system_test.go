package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/greese/imaginary-home-sub000/internal/command"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/config"
)

func testBrokerConfig() config.MQTTConfig {
	return config.MQTTConfig{Host: "localhost", Port: 1883, ClientID: "test", QoS: 1}
}

// fakeConn records published messages.
type fakeConn struct {
	mu       sync.Mutex
	messages map[string]json.RawMessage
	err      error
	closed   bool
}

func (c *fakeConn) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.messages == nil {
		c.messages = make(map[string]json.RawMessage)
	}
	c.messages[topic] = payload
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func testConfig() command.SystemConfig {
	return command.SystemConfig{
		ID:   "home-mqtt",
		Type: TypeTag,
		Devices: []command.DeviceConfig{
			{ID: "light-loft", Name: "loft light", Capabilities: []string{"switch"}},
			{ID: "blind-hall", Name: "hall blind", Capabilities: []string{"cover"}},
		},
	}
}

func TestSystemExposesConfiguredDevices(t *testing.T) {
	sys := newSystem(testConfig(), &fakeConn{}, nil)

	resources := sys.Resources()
	if len(resources) != 2 {
		t.Fatalf("resources = %d, want 2", len(resources))
	}
	if resources[0].ID() != "light-loft" {
		t.Errorf("resource id = %q, want %q", resources[0].ID(), "light-loft")
	}
	if !command.HasCapability(resources[0], "switch") || command.HasCapability(resources[0], "cover") {
		t.Error("capability set does not match device configuration")
	}
}

func TestExecutePublishesToDeviceTopic(t *testing.T) {
	conn := &fakeConn{}
	sys := newSystem(testConfig(), conn, noopLogger{})

	changed, err := sys.Resources()[0].Execute(context.Background(), "switch", "on", map[string]any{"level": 80})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !changed {
		t.Error("an acknowledged publish should report changed")
	}

	payload, ok := conn.messages[commandTopicPrefix+"light-loft"]
	if !ok {
		t.Fatalf("nothing published to the device topic; got %v", conn.messages)
	}

	var msg struct {
		Capability string         `json:"capability"`
		Operation  string         `json:"operation"`
		Arguments  map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("published payload does not decode: %v", err)
	}
	if msg.Capability != "switch" || msg.Operation != "on" {
		t.Errorf("published %s/%s, want switch/on", msg.Capability, msg.Operation)
	}
	if msg.Arguments["level"] != float64(80) {
		t.Errorf("arguments = %v, want level 80", msg.Arguments)
	}
}

func TestExecuteSurfacesBrokerFailure(t *testing.T) {
	brokerErr := &command.CommunicationError{Op: "mqtt publish", Err: errors.New("broker gone")}
	sys := newSystem(testConfig(), &fakeConn{err: brokerErr}, noopLogger{})

	changed, err := sys.Resources()[0].Execute(context.Background(), "switch", "on", nil)
	if changed {
		t.Error("a failed publish must not report changed")
	}
	if !command.IsCommunication(err) {
		t.Errorf("expected a CommunicationError, got %v", err)
	}
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	conn := &fakeConn{}
	sys := newSystem(testConfig(), conn, noopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sys.Resources()[0].Execute(ctx, "switch", "on", nil); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if len(conn.messages) != 0 {
		t.Error("nothing should publish after cancellation")
	}
}

func TestRegisterBindsTypeTag(t *testing.T) {
	registry := command.NewRegistry()
	Register(registry, testBrokerConfig(), nil)

	// The constructor is bound; building would dial a broker, so only the
	// unknown-tag path is exercised here.
	if _, err := registry.Build(command.SystemConfig{ID: "x", Type: "zigbee"}); err == nil {
		t.Error("an unregistered tag must fail to build")
	}
}
