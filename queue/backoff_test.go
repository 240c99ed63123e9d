package queue

import (
	"testing"
	"time"
)

func TestNextDelayGrowsExponentially(t *testing.T) {
	base := time.Second
	for attempts := 1; attempts <= 5; attempts++ {
		floor := time.Duration(1<<uint(attempts)) * base
		ceiling := floor + floor/10
		for i := 0; i < 20; i++ {
			d := NextDelay(attempts, base)
			if d < floor || d > ceiling {
				t.Fatalf("attempts=%d: delay %v outside [%v, %v]", attempts, d, floor, ceiling)
			}
		}
	}
}

func TestNextDelayClampsAttempts(t *testing.T) {
	base := time.Second

	// Below one behaves like the first retry.
	if d := NextDelay(0, base); d < 2*base {
		t.Errorf("attempts=0: delay %v below first-retry floor", d)
	}

	// Huge attempt counts saturate instead of overflowing.
	capped := NextDelay(maxBackoffShift, base)
	huge := NextDelay(1000, base)
	ceiling := time.Duration(1<<uint(maxBackoffShift))*base + time.Duration(1<<uint(maxBackoffShift))*base/10
	if capped > ceiling || huge > ceiling {
		t.Errorf("expected saturation at shift %d, got %v and %v", maxBackoffShift, capped, huge)
	}
	if huge <= 0 {
		t.Errorf("saturated delay must stay positive, got %v", huge)
	}
}
