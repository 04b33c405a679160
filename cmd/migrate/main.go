// Command migrate applies the embedded schema to a Postgres database. SQLite
// databases are migrated by the server on open and do not need this.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/cyberguard/internal/db/migrations"
)

func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	dbURL := envOr("CYBERGUARD_PROMPT_CACHE__DSN", os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		slog.Error("CYBERGUARD_PROMPT_CACHE__DSN or DATABASE_URL is required")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		slog.Error("failed to connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		slog.Error("failed to create migrations table", "err", err)
		os.Exit(1)
	}

	files, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		slog.Error("failed to read migrations", "err", err)
		os.Exit(1)
	}
	sort.Strings(files)

	for _, f := range files {
		version := strings.TrimSuffix(f, ".up.sql")

		var exists bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`,
			version,
		).Scan(&exists); err != nil {
			slog.Error("failed to check migration", "version", version, "err", err)
			os.Exit(1)
		}
		if exists {
			continue
		}

		sql, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			slog.Error("failed to read migration", "file", f, "err", err)
			os.Exit(1)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			slog.Error("failed to begin transaction", "err", err)
			os.Exit(1)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			_ = tx.Rollback(ctx)
			slog.Error("migration failed", "version", version, "err", err)
			os.Exit(1)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version,
		); err != nil {
			_ = tx.Rollback(ctx)
			slog.Error("failed to record migration", "version", version, "err", err)
			os.Exit(1)
		}
		if err := tx.Commit(ctx); err != nil {
			slog.Error("failed to commit migration", "version", version, "err", err)
			os.Exit(1)
		}

		fmt.Printf("applied: %s\n", version)
	}

	fmt.Println("migrations complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
