package identity

import (
	"context"
	"testing"
	"time"

	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/data"
)

func newTestStore(t *testing.T, cacheSize int) *Store {
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
	return NewStore(d, cacheSize)
}

func TestSaveAndResolveBothDirections(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	e := &Entry{
		Module:      "orders",
		EntityType:  "order",
		LocalID:     42,
		RemoteID:    9001,
		RemoteModel: "sale.order",
		ContentHash: Hash([]byte(`{"total":100}`)),
	}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}

	remote, err := s.ResolveRemote(ctx, "orders", "order", 42)
	if err != nil || remote != 9001 {
		t.Fatalf("resolve remote: got %d, %v", remote, err)
	}
	local, err := s.ResolveLocal(ctx, "orders", "order", 9001)
	if err != nil || local != 42 {
		t.Fatalf("resolve local: got %d, %v", local, err)
	}

	// Unknown ids resolve to zero, not an error.
	if remote, err := s.ResolveRemote(ctx, "orders", "order", 777); err != nil || remote != 0 {
		t.Errorf("unknown local id: got %d, %v", remote, err)
	}
}

func TestSaveUpsertsExistingPair(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	first := &Entry{Module: "orders", EntityType: "order", LocalID: 1, RemoteID: 2, ContentHash: "aaa"}
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := &Entry{Module: "orders", EntityType: "order", LocalID: 1, RemoteID: 2, ContentHash: "bbb",
		LastSyncedAt: time.Now().Add(time.Minute)}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	entries, err := s.List(ctx, "orders", "order")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one row after upsert, got %d", len(entries))
	}
	if entries[0].ContentHash != "bbb" {
		t.Errorf("expected updated hash, got %q", entries[0].ContentHash)
	}
}

func TestLookupReturnsNilForUnknown(t *testing.T) {
	s := newTestStore(t, 0)
	e, err := s.Lookup(context.Background(), "orders", "order", 12345)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil entry, got %+v", e)
	}
}

func TestResolveBatchChunksAndCaches(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	// More entries than one chunk to exercise the IN-query split.
	n := batchChunkSize + 25
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		e := &Entry{Module: "products", EntityType: "product", LocalID: int64(i), RemoteID: int64(i + 10000)}
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		ids = append(ids, int64(i))
	}
	s.InvalidateCache()

	// Ask for every saved id plus some unknowns.
	want := append(append([]int64{}, ids...), 999999, 888888)
	got, err := s.ResolveRemoteBatch(ctx, "products", "product", want)
	if err != nil {
		t.Fatalf("batch resolve: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d mappings, got %d", n, len(got))
	}
	if got[1] != 10001 || got[int64(n)] != int64(n+10000) {
		t.Errorf("unexpected mappings: %d->%d, %d->%d", 1, got[1], n, got[int64(n)])
	}
	if _, ok := got[999999]; ok {
		t.Errorf("unknown ids must be absent from the result")
	}

	remotes := []int64{10001, 10002}
	back, err := s.ResolveLocalBatch(ctx, "products", "product", remotes)
	if err != nil {
		t.Fatalf("reverse batch resolve: %v", err)
	}
	if back[10001] != 1 || back[10002] != 2 {
		t.Errorf("unexpected reverse mappings: %+v", back)
	}
}

func TestRemoveDropsBothDirections(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	e := &Entry{Module: "orders", EntityType: "order", LocalID: 5, RemoteID: 50}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Remove(ctx, e); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if remote, _ := s.ResolveRemote(ctx, "orders", "order", 5); remote != 0 {
		t.Errorf("local side still resolves to %d", remote)
	}
	if local, _ := s.ResolveLocal(ctx, "orders", "order", 50); local != 0 {
		t.Errorf("remote side still resolves to %d", local)
	}
}

func TestBiCacheEvictionDropsCounterpart(t *testing.T) {
	c := newBiCache(2)

	a := &Entry{Module: "m", EntityType: "t", LocalID: 1, RemoteID: 11}
	b := &Entry{Module: "m", EntityType: "t", LocalID: 2, RemoteID: 22}
	d := &Entry{Module: "m", EntityType: "t", LocalID: 3, RemoteID: 33}
	c.put(a)
	c.put(b)
	c.put(d) // evicts a from byLocal and so from byRemote too

	if _, ok := c.getByLocal("m", "t", 1); ok {
		t.Errorf("expected local side of the oldest entry to be evicted")
	}
	if _, ok := c.getByRemote("m", "t", 11); ok {
		t.Errorf("expected the remote counterpart to be evicted with it")
	}
	if _, ok := c.getByRemote("m", "t", 33); !ok {
		t.Errorf("newest entry should survive")
	}
}

func TestHashIsStable(t *testing.T) {
	h1 := Hash([]byte(`{"a":1}`))
	h2 := Hash([]byte(`{"a":1}`))
	h3 := Hash([]byte(`{"a":2}`))
	if h1 != h2 {
		t.Errorf("same payload must hash identically: %s vs %s", h1, h2)
	}
	if h1 == h3 {
		t.Errorf("different payloads should not collide in this test: %s", h1)
	}
	if h1 == "" {
		t.Errorf("hash must not be empty")
	}
}
