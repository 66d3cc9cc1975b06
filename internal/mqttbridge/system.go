package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greese/imaginary-home-sub000/internal/command"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/config"
)

// TypeTag is the registry tag this system type is constructed under.
const TypeTag = "mqtt"

// commandTopicPrefix is where device commands are published; the device id
// is appended as the final topic level.
const commandTopicPrefix = "imaginaryhome/command/"

// Connection constants.
const (
	// connectTimeout is the maximum time to wait for the initial connection.
	connectTimeout = 10 * time.Second

	// publishTimeout is the maximum time to wait for publish acknowledgment.
	publishTimeout = 5 * time.Second

	// disconnectQuiesce is the time to wait for pending operations on
	// disconnect, in milliseconds.
	disconnectQuiesce = 1000

	// keepAlive is the keepalive interval for the connection.
	keepAlive = 60 * time.Second

	// maxPayloadSize bounds published payloads (1 MB), aligning with
	// typical broker limits.
	maxPayloadSize = 1 << 20
)

// Logger defines the logging interface used by the bridge.
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

// publisher is the broker connection surface the system needs; satisfied by
// pahoConn and by test fakes.
type publisher interface {
	Publish(topic string, payload []byte) error
	Close() error
}

// Register binds the "mqtt" type tag to a constructor closing over the
// broker settings.
func Register(registry *command.Registry, brokerCfg config.MQTTConfig, logger Logger) {
	registry.Register(TypeTag, func(sc command.SystemConfig) (command.System, error) {
		return Connect(sc, brokerCfg, logger)
	})
}

// System is the MQTT capability provider.
type System struct {
	id        string
	conn      publisher
	resources []command.Resource
	logger    Logger
}

// Connect builds the system and establishes the broker connection.
func Connect(sc command.SystemConfig, brokerCfg config.MQTTConfig, logger Logger) (*System, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	conn, err := dial(brokerCfg)
	if err != nil {
		return nil, err
	}

	s := newSystem(sc, conn, logger)
	logger.Info("mqtt system connected",
		"system_id", s.id,
		"broker", fmt.Sprintf("%s:%d", brokerCfg.Host, brokerCfg.Port),
		"devices", len(sc.Devices),
	)
	return s, nil
}

// newSystem assembles the resource set over an established connection.
func newSystem(sc command.SystemConfig, conn publisher, logger Logger) *System {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &System{
		id:     sc.ID,
		conn:   conn,
		logger: logger,
	}
	for _, dev := range sc.Devices {
		s.resources = append(s.resources, &resource{
			id:           dev.ID,
			name:         dev.Name,
			capabilities: dev.Capabilities,
			sys:          s,
		})
	}
	return s
}

// ID returns the system identifier.
func (s *System) ID() string { return s.id }

// Resources returns the configured devices as resources.
func (s *System) Resources() []command.Resource { return s.resources }

// Close disconnects from the broker.
func (s *System) Close() error { return s.conn.Close() }

// resource is one MQTT-attached device.
type resource struct {
	id           string
	name         string
	capabilities []string
	sys          *System
}

func (r *resource) ID() string { return r.id }

func (r *resource) Capabilities() []string { return r.capabilities }

// Execute publishes the operation as a JSON command to the device's topic.
//
// Delivery to the broker is acknowledged within the publish timeout; what
// the device does with the command is not observed here, so a successful
// publish reports changed=true.
func (r *resource) Execute(ctx context.Context, capability, operation string, args map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	payload, err := json.Marshal(map[string]any{
		"capability": capability,
		"operation":  operation,
		"arguments":  args,
	})
	if err != nil {
		return false, &command.ControllerError{Reason: "encoding device command", Err: err}
	}
	if len(payload) > maxPayloadSize {
		return false, &command.ControllerError{
			Reason: fmt.Sprintf("command payload of %d bytes exceeds the %d byte limit", len(payload), maxPayloadSize),
		}
	}

	topic := commandTopicPrefix + r.id
	if err := r.sys.conn.Publish(topic, payload); err != nil {
		return false, err
	}

	r.sys.logger.Debug("device command published",
		"system_id", r.sys.id,
		"device_id", r.id,
		"topic", topic,
		"operation", operation,
	)
	return true, nil
}

// pahoConn wraps the paho client with validation and bounded waits.
type pahoConn struct {
	client pahomqtt.Client
	qos    byte
}

// dial connects to the broker with auto-reconnect enabled.
func dial(cfg config.MQTTConfig) (*pahoConn, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, &command.CommunicationError{
			Op:  "mqtt connect",
			Err: fmt.Errorf("timeout after %v", connectTimeout),
		}
	}
	if err := token.Error(); err != nil {
		return nil, &command.CommunicationError{Op: "mqtt connect", Err: err}
	}

	return &pahoConn{client: client, qos: byte(cfg.QoS)}, nil
}

// Publish sends one message, waiting for broker acknowledgment.
func (c *pahoConn) Publish(topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return &command.CommunicationError{
			Op:  "mqtt publish",
			Err: fmt.Errorf("not connected to broker"),
		}
	}

	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return &command.CommunicationError{
			Op:  "mqtt publish",
			Err: fmt.Errorf("timeout after %v", publishTimeout),
		}
	}
	if err := token.Error(); err != nil {
		return &command.CommunicationError{Op: "mqtt publish", Err: err}
	}
	return nil
}

// Close disconnects after a short quiesce for pending operations.
func (c *pahoConn) Close() error {
	c.client.Disconnect(disconnectQuiesce)
	return nil
}
