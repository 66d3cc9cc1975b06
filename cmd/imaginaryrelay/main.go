// Imaginary Home Relay - In-Home Controller
//
// This is the main entry point for the relay binary: the in-home half of
// the Imaginary Home platform. The relay polls its cloud services for
// pending commands, executes them against local systems (MQTT bridge),
// reports results back, and persists its queue and schedule across
// restarts so accepted commands survive a power cycle.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greese/imaginary-home-sub000/internal/command"
	"github.com/greese/imaginary-home-sub000/internal/controller"
	"github.com/greese/imaginary-home-sub000/internal/history"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/config"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/logging"
	"github.com/greese/imaginary-home-sub000/internal/mqttbridge"
	"github.com/greese/imaginary-home-sub000/internal/poll"
)

// Version information - set at build time via ldflags
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/relay.yaml"

// shutdownGracePeriod bounds how long the controller waits for in-flight
// command batches before force-cancelling them.
const shutdownGracePeriod = 10 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default("imaginary-relay")
	log.Info("starting Imaginary Home relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.LoadRelay(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "imaginary-relay", version)

	// System registry: each enabled transport binds its type tag here, and
	// the controller configuration names which tag each system uses.
	registry := command.NewRegistry()
	if cfg.MQTT.Enabled {
		mqttbridge.Register(registry, cfg.MQTT, log)
		log.Info("MQTT bridge registered",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)
	} else {
		log.Info("MQTT bridge disabled")
	}

	executor := command.NewExecutor(cfg.Executor.MaxConcurrent)
	executor.SetLogger(log)
	defer func() {
		log.Info("closing systems")
		if closeErr := executor.Close(); closeErr != nil {
			log.Error("error closing systems", "error", closeErr)
		}
	}()

	// Command-result history (optional)
	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Connect(cfg.History, log)
		if err != nil && !errors.Is(err, history.ErrDisabled) {
			return fmt.Errorf("connecting to history store: %w", err)
		}
		if recorder != nil {
			defer func() {
				log.Info("closing history store")
				if closeErr := recorder.Close(); closeErr != nil {
					log.Error("error closing history store", "error", closeErr)
				}
			}()
			log.Info("history store connected", "url", cfg.History.URL, "bucket", cfg.History.Bucket)
		}
	} else {
		log.Info("history store disabled")
	}

	// Results fan out to the owning cloud service and, when enabled, the
	// history store.
	router := poll.NewResultRouter(log)
	sink := controller.MultiSink{router}
	if recorder != nil {
		sink = append(sink, recorder)
	}

	ctrl, err := controller.New(cfg.StateDir, executor, sink, log)
	if err != nil {
		return fmt.Errorf("loading controller state: %w", err)
	}

	// Build every configured system before accepting work so a bad system
	// definition fails startup rather than the first command.
	for _, sc := range ctrl.Config().Systems {
		sys, buildErr := registry.Build(sc)
		if buildErr != nil {
			return fmt.Errorf("building system %q: %w", sc.ID, buildErr)
		}
		executor.RegisterSystem(sys)
		log.Info("system ready", "system_id", sc.ID, "type", sc.Type)
	}

	ctrl.Start(ctx)
	defer func() {
		log.Info("shutting down controller", "grace_period", shutdownGracePeriod)
		if shutErr := ctrl.Shutdown(shutdownGracePeriod); shutErr != nil {
			log.Error("error shutting down controller", "error", shutErr)
		}
	}()

	// One poll loop per cloud service. A failed startup token exchange is
	// not fatal: the client re-exchanges on the first authentication
	// failure it meets.
	services := ctrl.Config().Services
	if len(services) == 0 {
		log.Warn("no cloud services configured, running offline")
	}
	for _, svc := range services {
		client := poll.NewClient(cfg.Cloud.BaseURL, svc.RelayID, svc.Secret, cfg.Cloud.RequestTimeout(), log)
		if tokenErr := client.ExchangeToken(ctx); tokenErr != nil {
			log.Warn("startup token exchange failed",
				"service_id", svc.ID,
				"error", tokenErr,
			)
		}
		router.AddService(svc.ID, client)

		loop := poll.NewLoop(client, svc.ID, ctrl, snapshotFunc(ctrl), cfg.Cloud.StatePushEvery(), log)
		go loop.Run(ctx)
		log.Info("poll loop started", "service_id", svc.ID, "relay_id", svc.RelayID)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// 1. Controller shutdown (persists the queue)
	// 2. History store (flushes buffered points)
	// 3. Systems

	log.Info("Imaginary Home relay stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IMAGINARY_RELAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IMAGINARY_RELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// snapshotFunc assembles a device-state snapshot from the controller's
// current configuration. Reading the configuration on every push keeps the
// snapshot in step with hot reloads.
func snapshotFunc(ctrl *controller.Controller) poll.SnapshotFunc {
	return func(_ context.Context) []poll.DeviceState {
		var devices []poll.DeviceState
		for _, sc := range ctrl.Config().Systems {
			for _, d := range sc.Devices {
				state, err := json.Marshal(map[string]any{
					"capabilities": d.Capabilities,
					"online":       true,
				})
				if err != nil {
					continue
				}
				devices = append(devices, poll.DeviceState{
					ID:    d.ID,
					Name:  d.Name,
					State: state,
				})
			}
		}
		return devices
	}
}
