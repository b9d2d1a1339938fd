// Package postgres provides a PostgreSQL-backed [journal.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
// [Migrate] runs on construction and is idempotent.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS voice_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    segment_id  BIGINT       NOT NULL,
    text        TEXT         NOT NULL,
    raw_text    TEXT         NOT NULL DEFAULT '',
    outcome     TEXT         NOT NULL,
    queued_at   TIMESTAMPTZ  NOT NULL,
    started_at  TIMESTAMPTZ,
    ended_at    TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_voice_turns_session_id
    ON voice_turns (session_id, id);

CREATE INDEX IF NOT EXISTS idx_voice_turns_outcome
    ON voice_turns (outcome);
`

// Migrate creates the journal table and indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		return fmt.Errorf("migrate voice_turns: %w", err)
	}
	return nil
}
