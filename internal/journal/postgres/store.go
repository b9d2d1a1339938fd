package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxrelay/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Store is a [journal.Store] on a [pgxpool.Pool]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Write implements [journal.Store].
func (s *Store) Write(ctx context.Context, t journal.Turn) error {
	const q = `
		INSERT INTO voice_turns
		    (session_id, segment_id, text, raw_text, outcome, queued_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var started *time.Time
	if !t.StartedAt.IsZero() {
		started = &t.StartedAt
	}
	_, err := s.pool.Exec(ctx, q,
		t.SessionID,
		int64(t.SegmentID),
		t.Text,
		t.RawText,
		t.Outcome,
		t.QueuedAt,
		started,
		t.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("journal postgres: write turn: %w", err)
	}
	return nil
}

// Recent implements [journal.Store]. An empty sessionID matches every
// session.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]journal.Turn, error) {
	args := []any{sessionID}
	q := `
		SELECT session_id, segment_id, text, raw_text, outcome, queued_at, started_at, ended_at
		FROM   voice_turns
		WHERE  ($1::text = '' OR session_id = $1::text)
		ORDER  BY id DESC`
	if limit > 0 {
		args = append(args, limit)
		q += "\n\t\tLIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	// Rows come newest first so LIMIT keeps the latest; callers want oldest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectTurns(rows pgx.Rows) ([]journal.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Turn, error) {
		var (
			t         journal.Turn
			segmentID int64
			started   *time.Time
		)
		if err := row.Scan(
			&t.SessionID,
			&segmentID,
			&t.Text,
			&t.RawText,
			&t.Outcome,
			&t.QueuedAt,
			&started,
			&t.EndedAt,
		); err != nil {
			return journal.Turn{}, err
		}
		t.SegmentID = uint64(segmentID)
		if started != nil {
			t.StartedAt = *started
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal postgres: scan rows: %w", err)
	}
	if turns == nil {
		turns = []journal.Turn{}
	}
	return turns, nil
}
