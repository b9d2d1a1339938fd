package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxrelay/internal/journal"
	"github.com/MrWong99/voxrelay/internal/journal/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXRELAY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXRELAY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore returns a store on a freshly dropped schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS voice_turns CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_WriteAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	turns := []journal.Turn{
		{SessionID: "s1", SegmentID: 1, Text: "Eldrinax was here", RawText: "elder nacks was here", Outcome: "played",
			QueuedAt: base, StartedAt: base.Add(time.Second), EndedAt: base.Add(2 * time.Second)},
		{SessionID: "s1", SegmentID: 2, Text: "stale", Outcome: "barge_in",
			QueuedAt: base.Add(3 * time.Second), EndedAt: base.Add(4 * time.Second)},
		{SessionID: "s2", SegmentID: 1, Text: "other", Outcome: "played",
			QueuedAt: base, StartedAt: base, EndedAt: base},
	}
	for _, tr := range turns {
		if err := store.Write(ctx, tr); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got, err := store.Recent(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].SegmentID != 1 || got[1].SegmentID != 2 {
		t.Errorf("order = %d,%d, want 1,2", got[0].SegmentID, got[1].SegmentID)
	}
	if got[0].RawText != "elder nacks was here" || !got[0].StartedAt.Equal(base.Add(time.Second)) {
		t.Errorf("first turn = %+v", got[0])
	}
	if !got[1].StartedAt.IsZero() {
		t.Errorf("unstarted turn has StartedAt %v", got[1].StartedAt)
	}

	latest, err := store.Recent(ctx, "", 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(latest) != 1 || latest[0].SessionID != "s2" {
		t.Errorf("latest = %+v, want the s2 turn", latest)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()
	for range 2 {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		_ = store.Close()
	}
}
