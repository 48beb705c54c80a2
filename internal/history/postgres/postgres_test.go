package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/dictum/internal/history"
	"github.com/MrWong99/dictum/internal/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if DICTUM_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("DICTUM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DICTUM_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS dictation_history"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute).UTC()
	for i, text := range []string{"alpha", "beta", "gamma"} {
		e := history.EnsureID(history.Entry{
			SessionID: "s1",
			Seq:       uint64(i + 1),
			Text:      text,
			Reason:    "pause",
			Audio:     time.Duration(i+1) * time.Second,
			Created:   base.Add(time.Duration(i) * time.Second),
		})
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append(%q): %v", text, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(got))
	}
	if got[0].Text != "gamma" || got[1].Text != "beta" {
		t.Errorf("order = %q, %q; want gamma, beta", got[0].Text, got[1].Text)
	}
	if got[0].Audio != 3*time.Second || got[0].Seq != 3 {
		t.Errorf("fields not round-tripped: %+v", got[0])
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_DuplicateIDIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := history.EnsureID(history.Entry{Text: "once"})
	for range 2 {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Recent returned %d entries, want 1", len(got))
	}
}
