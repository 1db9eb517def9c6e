package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robosystems/graphplane/internal/config"
	"github.com/robosystems/graphplane/internal/migrations"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func handleMigrate(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printMigrateUsage()
		return nil
	}

	cfg := config.FromEnv()
	if cfg.PostgresDSN == "" {
		return errors.New("GRAPHPLANE_POSTGRES_DSN must be set to run migrations")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "up":
		if err := migrations.Apply(db.DB); err != nil {
			return err
		}
		fmt.Println("migrations applied")
	case "down":
		if err := migrations.Rollback(db.DB); err != nil {
			return err
		}
		fmt.Println("migration rolled back")
	default:
		printMigrateUsage()
		return fmt.Errorf("unknown migrate subcommand %q", args[0])
	}
	return nil
}

func printMigrateUsage() {
	fmt.Println(`Usage:
  graphctl migrate up
  graphctl migrate down`)
}
