package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/postgres"
	"github.com/Strob0t/runtask-analyzer/internal/config"
)

// runMigrate dispatches migrate subcommands (up, down, version).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	case "down":
		fs := flag.NewFlagSet("down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *steps < 1 {
			return errors.New("--steps must be >= 1")
		}
		return postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: runtask-analyzer migrate <command> [options]

Commands:
  up         Apply all pending run log migrations
  down       Roll back migrations (--steps N, default 1)
  version    Print the current schema version
  help       Show this help message

The database is taken from DATABASE_URL or postgres.dsn in runtask.yaml.
`)
}
