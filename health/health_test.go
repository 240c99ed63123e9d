package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/breaker"
	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/data"
	"github.com/syncbridge/syncbridge/queue"

	"github.com/gin-gonic/gin"
)

type fixture struct {
	store *queue.Store
	brk   *breaker.Breaker
	reg   *adapter.Registry
	srv   *gin.Engine
}

func newFixture(t *testing.T, failedCeiling int64) *fixture {
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

	store := queue.NewStore(d, nil)
	brk := breaker.New(d, "", nil)
	reg := adapter.NewRegistry(nil)

	gin.SetMode(gin.TestMode)
	srv := gin.New()
	NewHandler(store, brk, reg, failedCeiling).Register(srv.Group("/"))

	return &fixture{store: store, brk: brk, reg: reg, srv: srv}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.srv.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json from %s: %v", path, err)
	}
	return w, body
}

func TestHealthHealthy(t *testing.T) {
	f := newFixture(t, 100)

	w, body := f.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["status"] != StatusHealthy {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if body["breaker_state"] != string(breaker.StateClosed) {
		t.Errorf("expected closed breaker, got %v", body["breaker_state"])
	}
}

func TestHealthDegradedWhenBreakerOpen(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := f.brk.RecordBatch(ctx, 0, 10, now); err != nil {
			t.Fatalf("trip breaker: %v", err)
		}
	}

	_, body := f.get(t, "/health")
	if body["status"] != StatusDegraded {
		t.Errorf("expected degraded, got %v", body["status"])
	}
	if body["breaker_state"] != string(breaker.StateOpen) {
		t.Errorf("expected open breaker, got %v", body["breaker_state"])
	}
}

func TestHealthDegradedAboveFailedCeiling(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		id, err := f.store.Enqueue(ctx, &queue.Spec{
			Module:     "orders",
			Direction:  queue.DirectionOutbound,
			EntityType: "order",
			LocalID:    int64(i),
			Action:     queue.ActionUpdate,
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := f.store.ClaimDue(ctx, "", 1, time.Now().Add(time.Second)); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := f.store.Fail(ctx, id, "boom", true, time.Now()); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	_, body := f.get(t, "/health")
	if body["status"] != StatusDegraded {
		t.Errorf("expected degraded above the failed-jobs ceiling, got %v", body["status"])
	}
	if body["failed_count"] != float64(2) {
		t.Errorf("expected 2 failed jobs, got %v", body["failed_count"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	if _, err := f.store.Enqueue(ctx, &queue.Spec{
		Module:     "orders",
		Direction:  queue.DirectionOutbound,
		EntityType: "order",
		LocalID:    1,
		Action:     queue.ActionCreate,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w, body := f.get(t, "/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["pending"] != float64(1) || body["total"] != float64(1) {
		t.Errorf("unexpected stats payload: %v", body)
	}
}
