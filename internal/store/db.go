// Package store persists the prompt cache and officer accounts in SQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/cyberguard/internal/db/migrations"
)

var ErrNotFound = errors.New("not found")

// DB is a database handle paired with its SQL dialect.
type DB struct {
	*sql.DB
	dialect Dialect
}

func (db *DB) Dialect() Dialect { return db.dialect }

func (db *DB) rebind(query string) string { return db.dialect.Rebind(query) }

// Open connects to the configured database. SQLite databases are migrated on
// open; Postgres schemas are applied ahead of time with cmd/migrate.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}

	if d.Name() == "sqlite" {
		// One writer at a time; also keeps a :memory: database on a single
		// connection.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		conn.SetConnMaxIdleTime(0)

		if err := runMigrations(conn); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name(), err)
	}
	return &DB{DB: conn, dialect: d}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return err
	}
	return m.Up()
}
