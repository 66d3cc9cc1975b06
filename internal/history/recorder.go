package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/greese/imaginary-home-sub000/internal/controller"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/config"
)

// Timeouts and batching defaults.
const (
	connectTimeout = 10 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	millisecondsPerSecond = 1000
)

// ErrDisabled is returned by Connect when history recording is switched
// off in configuration.
var ErrDisabled = errors.New("history: disabled in configuration")

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder writes one point per command result. It implements the
// controller's ResultSink.
//
// Thread Safety: all methods are safe for concurrent use; writes are
// batched and asynchronous.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   Logger

	mu        sync.RWMutex
	connected bool
}

// Connect establishes the InfluxDB connection and verifies it with a ping.
//
// Returns ErrDisabled when the history section is disabled.
func Connect(cfg config.HistoryConfig, logger Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("history: ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("history: server not healthy")
	}

	r := &Recorder{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:    logger,
		connected: true,
	}
	go r.handleWriteErrors(r.writeAPI.Errors())

	return r, nil
}

// PostResult records one command outcome. Never blocks on the database.
func (r *Recorder) PostResult(_ context.Context, serviceID string, result controller.Result) {
	if !r.isConnected() {
		return
	}

	point := write.NewPoint(
		"command_result",
		map[string]string{
			"service_id": serviceID,
			"system_id":  result.SystemID,
			"capability": result.Capability,
		},
		map[string]interface{}{
			"command_id":  result.CommandID,
			"success":     result.Success,
			"changed":     result.Changed,
			"duration_ms": result.Duration.Milliseconds(),
		},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

// Close flushes pending writes and shuts the connection down.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()
	return nil
}

// HealthCheck verifies the InfluxDB connection is alive.
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if !r.isConnected() {
		return fmt.Errorf("history: recorder closed")
	}
	healthy, err := r.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("history: ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("history: server not healthy")
	}
	return nil
}

func (r *Recorder) isConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// handleWriteErrors drains async write failures into the log.
func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		if r.logger != nil {
			r.logger.Warn("history write failed", "error", err)
		}
	}
}
