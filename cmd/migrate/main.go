// Command migrate applies or rolls back the users schema.
//
// Usage:
//
//	migrate [-driver postgres|sqlite] [-dsn URL_OR_PATH] up|down|version
//
// The DSN defaults to DATABASE_URL (postgres) or SQLITE_PATH (sqlite).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/tessera/tessera/internal/migrations"
)

func main() {
	driver := flag.String("driver", envOr("STORAGE_DRIVER", "postgres"), "storage driver: postgres or sqlite")
	dsn := flag.String("dsn", "", "database URL or sqlite path")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-driver postgres|sqlite] [-dsn DSN] up|down|version")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, dialect, err := open(ctx, *driver, *dsn)
	if err != nil {
		logger.Error("failed to open database", "driver", *driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := run(ctx, db, dialect, flag.Arg(0), logger); err != nil {
		logger.Error("migration failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, db *sql.DB, dialect, command string, logger *slog.Logger) error {
	switch command {
	case "up":
		n, err := migrations.Up(ctx, db, dialect)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", n)
	case "down":
		if err := migrations.Down(ctx, db, dialect); err != nil {
			return err
		}
		logger.Info("rolled back one migration")
	case "version":
		v, err := migrations.Version(ctx, db, dialect)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func open(ctx context.Context, driver, dsn string) (*sql.DB, string, error) {
	switch driver {
	case "postgres":
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, "", fmt.Errorf("DATABASE_URL or -dsn is required")
		}
		db, err := migrations.OpenPostgres(ctx, dsn)
		return db, migrations.DialectPostgres, err
	case "sqlite":
		if dsn == "" {
			dsn = os.Getenv("SQLITE_PATH")
		}
		if dsn == "" {
			return nil, "", fmt.Errorf("SQLITE_PATH or -dsn is required")
		}
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, "", err
		}
		return db, migrations.DialectSQLite, nil
	default:
		return nil, "", fmt.Errorf("unknown driver %q", driver)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
