// Imaginary Home Hub - Cloud Service
//
// This is the main entry point for the hub binary: the cloud-side half of
// the Imaginary Home platform. The hub owns the durable state (locations,
// relays, devices, pending commands), verifies the signed request envelope
// on every API call, and hands queued commands to polling relays.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/greese/imaginary-home-sub000/migrations"

	"github.com/greese/imaginary-home-sub000/internal/audit"
	"github.com/greese/imaginary-home-sub000/internal/hubapi"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/config"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/database"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/logging"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/secrets"
	"github.com/greese/imaginary-home-sub000/internal/location"
	"github.com/greese/imaginary-home-sub000/internal/pending"
	"github.com/greese/imaginary-home-sub000/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/hub.yaml"

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
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default("imaginary-hub")
	log.Info("starting Imaginary Home hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.LoadHub(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "imaginary-hub", version)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Cipher for relay secrets at rest
	cipher, err := secrets.NewCipher(cfg.Security.MasterKey)
	if err != nil {
		return fmt.Errorf("initialising secrets cipher: %w", err)
	}

	// Domain services share the one database handle
	relayRepo := relay.NewSQLiteRepository(db.DB)
	relays := relay.NewService(relayRepo, cipher, cfg.Security.TokenSecret, cfg.Security.TokenTTLDuration())

	pairing := location.NewPairingService(location.NewSQLiteRepository(db.DB), relays, cipher)
	pairing.SetLogger(log)

	store := pending.NewStore(pending.NewSQLiteRepository(db.DB), relayRepo)
	store.SetLogger(log)

	server, err := hubapi.New(hubapi.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Logger:   log,
		Pairing:  pairing,
		Relays:   relays,
		Pending:  store,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	if err := healthCheck(ctx, db, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Database

	log.Info("Imaginary Home hub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IMAGINARY_HUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IMAGINARY_HUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, server *hubapi.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
