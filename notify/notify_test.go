package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/data"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (r *recordingNotifier) Alert(_ context.Context, message string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, message)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newTestTracker(t *testing.T, opts *Options) (*Tracker, *recordingNotifier) {
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
	rec := &recordingNotifier{}
	return NewTracker(d, rec, opts), rec
}

func TestAlertFiresAtThreshold(t *testing.T) {
	tr, rec := newTestTracker(t, &Options{Threshold: 3, Cooldown: time.Hour})
	ctx := context.Background()

	tr.RecordFailure(ctx, "orders", "timeout")
	tr.RecordFailure(ctx, "orders", "timeout")
	if rec.count() != 0 {
		t.Fatalf("expected no alert below threshold, got %d", rec.count())
	}

	tr.RecordFailure(ctx, "orders", "timeout")
	if rec.count() != 1 {
		t.Fatalf("expected exactly one alert at threshold, got %d", rec.count())
	}

	n, err := tr.Failures(ctx, "orders")
	if err != nil || n != 3 {
		t.Errorf("expected 3 recorded failures, got %d, %v", n, err)
	}
}

func TestCooldownThrottlesRepeatAlerts(t *testing.T) {
	tr, rec := newTestTracker(t, &Options{Threshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := tr.RecordFailure(ctx, "orders", "remote down"); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if rec.count() != 1 {
		t.Fatalf("expected one alert within the cooldown window, got %d", rec.count())
	}
}

func TestSuccessResetsStreak(t *testing.T) {
	tr, rec := newTestTracker(t, &Options{Threshold: 3, Cooldown: time.Hour})
	ctx := context.Background()

	tr.RecordFailure(ctx, "orders", "timeout")
	tr.RecordFailure(ctx, "orders", "timeout")
	if err := tr.RecordSuccess(ctx, "orders"); err != nil {
		t.Fatalf("success: %v", err)
	}

	n, _ := tr.Failures(ctx, "orders")
	if n != 0 {
		t.Fatalf("expected a reset counter, got %d", n)
	}

	// The streak starts over; two more failures stay under threshold.
	tr.RecordFailure(ctx, "orders", "timeout")
	tr.RecordFailure(ctx, "orders", "timeout")
	if rec.count() != 0 {
		t.Fatalf("expected no alert after the reset, got %d", rec.count())
	}
}

func TestGlobalScopeSharesCounterAcrossModules(t *testing.T) {
	tr, rec := newTestTracker(t, &Options{Threshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	tr.RecordFailure(ctx, "orders", "timeout")
	tr.RecordFailure(ctx, "customers", "timeout")
	if rec.count() != 1 {
		t.Fatalf("global scope: expected failures across modules to share the streak, got %d alerts", rec.count())
	}
}

func TestPerModuleScopeSeparatesCounters(t *testing.T) {
	tr, rec := newTestTracker(t, &Options{Threshold: 2, Cooldown: time.Hour, PerModule: true})
	ctx := context.Background()

	tr.RecordFailure(ctx, "orders", "timeout")
	tr.RecordFailure(ctx, "customers", "timeout")
	if rec.count() != 0 {
		t.Fatalf("per-module scope: expected separate streaks, got %d alerts", rec.count())
	}

	tr.RecordFailure(ctx, "orders", "timeout")
	if rec.count() != 1 {
		t.Fatalf("expected the orders streak to alert on its own, got %d", rec.count())
	}
}
