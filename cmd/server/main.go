// Package main implements the entry point for the Moments API server, which
// accepts image-and-text analysis tasks and runs them through the durable
// step pipeline in a background worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Run a migration command (up, down, status, version) and exit")
	skipMigrations := flag.Bool("skip-migrations", false, "Do not apply pending migrations on startup")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *migrateCmd, *skipMigrations); err != nil {
		slog.Error("Server stopped with error", "error", err)
		stop()
		os.Exit(1)
	}
}

// run loads configuration, prepares the database and either executes a single
// migration command or serves until ctx is canceled.
func run(ctx context.Context, migrateCmd string, skipMigrations bool) error {
	cfg, err := loadAppConfig()
	if err != nil {
		// The logger is not configured yet.
		log.Printf("Failed to load configuration: %v", err)
		return err
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		return err
	}

	db, err := setupAppDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("Error closing database connection", "error", err)
			}
		}()
		return runMigrations(ctx, db, migrateCmd, logger)
	}

	if !skipMigrations {
		if err := runMigrations(ctx, db, "up", logger); err != nil {
			_ = db.Close()
			return err
		}
	}

	app, err := newApplication(ctx, cfg, logger, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
