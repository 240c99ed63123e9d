package data

import (
	"context"
	"testing"

	"github.com/syncbridge/syncbridge/config"
)

func TestNewRequiresDatabaseConfig(t *testing.T) {
	if _, _, err := New(context.Background(), nil); err == nil {
		t.Fatalf("expected an error for nil config")
	}
	if _, _, err := New(context.Background(), &config.Data{Database: &config.Database{}}); err == nil {
		t.Fatalf("expected an error for an empty source")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, _, err := New(context.Background(), &config.Data{
		Database: &config.Database{Driver: "oracle", Source: "whatever"},
	})
	if err == nil {
		t.Fatalf("expected an error for an unsupported driver")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, cleanup, err := New(ctx, &config.Data{
		Database: &config.Database{Driver: "sqlite3", Source: ":memory:"},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cleanup()

	for i := 0; i < 2; i++ {
		if err := d.Migrate(ctx); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}

	// All five tables must exist and be queryable.
	for _, table := range []string{"sync_jobs", "sync_identity", "sync_breaker", "sync_locks", "sync_failures"} {
		var n int
		if err := d.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestMigrateViaConfigFlag(t *testing.T) {
	ctx := context.Background()
	d, cleanup, err := New(ctx, &config.Data{
		Database: &config.Database{Driver: "sqlite3", Source: ":memory:", Migrate: true},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cleanup()

	var n int
	if err := d.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_jobs").Scan(&n); err != nil {
		t.Errorf("expected the schema applied at startup: %v", err)
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT id FROM sync_jobs WHERE module = ? AND status = ? LIMIT ?"

	if got := Rebind("sqlite3", q); got != q {
		t.Errorf("sqlite must keep ? placeholders, got %s", got)
	}
	if got := Rebind("mysql", q); got != q {
		t.Errorf("mysql must keep ? placeholders, got %s", got)
	}

	want := "SELECT id FROM sync_jobs WHERE module = $1 AND status = $2 LIMIT $3"
	if got := Rebind("pgx", q); got != want {
		t.Errorf("pgx rebind:\n got %s\nwant %s", got, want)
	}

	// No placeholders passes through untouched.
	if got := Rebind("pgx", "SELECT 1"); got != "SELECT 1" {
		t.Errorf("got %s", got)
	}
}
