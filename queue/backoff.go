package queue

import (
	"math/rand"
	"time"
)

// maxBackoffShift caps the exponent so the delay cannot overflow or
// grow past any reasonable schedule.
const maxBackoffShift = 16

// NextDelay computes the retry delay after the given number of
// attempts: 2^attempts * base plus up to 10% random jitter. The jitter
// keeps many jobs that failed together from retrying in one
// synchronized storm.
func NextDelay(attempts int, base time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	d := time.Duration(1<<uint(attempts)) * base
	if d <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}
