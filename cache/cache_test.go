package cache

import (
	"context"
	"errors"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Without a redis client every operation must degrade to a clean no-op
// rather than panic; the engine runs cache-less in the minimal setup.
func TestNilClientIsSafe(t *testing.T) {
	c := New[payload](nil, "test")
	ctx := context.Background()

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss from a nil client, got %v", err)
	}
	if err := c.Set(ctx, "k", &payload{Name: "a", Count: 1}); err != nil {
		t.Errorf("set on nil client: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("delete on nil client: %v", err)
	}
}

func TestKeyPrefixing(t *testing.T) {
	c := New[payload](nil, "syncbridge:queue:stats")
	if got := c.key("all"); got != "syncbridge:queue:stats:all" {
		t.Errorf("unexpected key %q", got)
	}
}
