// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/txMaestro/web3safetykit/internal/config"
	"github.com/txMaestro/web3safetykit/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down")
		path   = flag.String("path", "migrations", "Path to migration files")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	databaseURL := storage.PostgresURL(&cfg.Database.Postgres)

	switch *action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := storage.RunMigrations(databaseURL, *path); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Postgres migrations completed")
	case "down":
		log.Println("Rolling back last Postgres migration...")
		if err := storage.RollbackMigrations(databaseURL, *path); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rollback completed")
	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	// ClickHouse DDL is idempotent and applied by the worker at startup,
	// but can also be applied here when the worker runs with a restricted
	// database user.
	ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		log.Printf("Skipping ClickHouse schema (unreachable): %v", err)
		return
	}
	defer ch.Close()

	if err := ch.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("ClickHouse schema failed: %v", err)
	}
	log.Println("ClickHouse schema ensured")
}
