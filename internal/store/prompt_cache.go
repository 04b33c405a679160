package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PromptCache remembers translated question prompts per language.
type PromptCache struct {
	db  *DB
	now func() time.Time
}

func NewPromptCache(db *DB) *PromptCache {
	return &PromptCache{db: db, now: time.Now}
}

func (c *PromptCache) Get(ctx context.Context, lang, source string) (string, bool, error) {
	var translated string
	err := c.db.QueryRowContext(ctx,
		c.db.rebind(`SELECT translated FROM prompt_cache WHERE language = ? AND source = ?`),
		lang, source,
	).Scan(&translated)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return translated, true, nil
}

func (c *PromptCache) Put(ctx context.Context, lang, source, translated string) error {
	query := `INSERT INTO prompt_cache (language, source, translated, created_at) VALUES (?, ?, ?, ?) ` +
		c.db.dialect.UpsertClause("language, source", []string{"translated", "created_at"})
	_, err := c.db.ExecContext(ctx, c.db.rebind(query), lang, source, translated, c.now().Unix())
	return err
}

// Len returns the number of cached prompts.
func (c *PromptCache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompt_cache`).Scan(&n)
	return n, err
}
