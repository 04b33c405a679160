// Package migrations embeds the schema for the prompt cache and officer
// accounts. The same files are applied to SQLite at startup and to Postgres by
// cmd/migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
