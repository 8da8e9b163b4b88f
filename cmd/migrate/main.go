package main

// Applies the job store schema:
//   go run ./cmd/migrate [up|down|version]

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"salesops-backend/internal/shared/config"
	"salesops-backend/internal/shared/storage/db"
	"salesops-backend/internal/shared/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Load()
	if err := telemetry.Setup(telemetry.Options{Level: cfg.LogLevel, LogFile: cfg.LogFile}); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		return 1
	}
	defer telemetry.Close()

	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "up", "down", "version":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want up, down or version)\n", command)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		return 1
	}
	defer sqlDB.Close()

	switch command {
	case "up":
		err = db.RunMigrations(ctx, sqlDB)
	case "down":
		err = db.RollbackMigration(ctx, sqlDB)
	case "version":
		var version int64
		if version, err = db.SchemaVersion(ctx, sqlDB); err == nil {
			fmt.Printf("schema version: %d\n", version)
		}
	}
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"command": command, "error": err.Error()})
		return 1
	}
	telemetry.Info("migrate.done", map[string]any{"command": command})
	return 0
}
