package engine

import (
	"context"
	"testing"
	"time"

	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/data"
)

func newTestLocker(t *testing.T) Locker {
	t.Helper()
	ctx := context.Background()
	d, cleanup, err := data.New(ctx, &config.Data{
		Database: &config.Database{Driver: "sqlite3", Source: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(cleanup)
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewLocker(d)
}

func TestLockIsExclusive(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "engine:orders", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	_, ok, err = l.TryAcquire(ctx, "engine:orders", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected the second acquire to fail while held")
	}

	release()
	_, ok, err = l.TryAcquire(ctx, "engine:orders", time.Minute)
	if err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}

func TestLocksAreIndependentByName(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	_, ok, err := l.TryAcquire(ctx, "engine:orders", time.Minute)
	if err != nil || !ok {
		t.Fatalf("orders acquire: ok=%v err=%v", ok, err)
	}
	_, ok, err = l.TryAcquire(ctx, "engine:customers", time.Minute)
	if err != nil || !ok {
		t.Fatalf("customers acquire must not be blocked by orders: ok=%v err=%v", ok, err)
	}
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	// A crashed holder never calls release; the TTL is all that
	// protects the lock.
	_, ok, err := l.TryAcquire(ctx, "engine:global", time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(5 * time.Millisecond)

	_, ok, err = l.TryAcquire(ctx, "engine:global", time.Minute)
	if err != nil || !ok {
		t.Fatalf("takeover of expired lock: ok=%v err=%v", ok, err)
	}
}
