// Package breaker gates remote calls on aggregate batch health. State
// is durable in SQL with a redis fast path, so a cache flush cannot
// silently reset an open breaker during a real outage, and a lost
// close signal cannot wedge the queue forever.
package breaker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/syncbridge/syncbridge/cache"
	"github.com/syncbridge/syncbridge/data"

	"github.com/redis/go-redis/v9"
)

// State of the breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// DefaultScope is the breaker row shared by the unsharded queue.
const DefaultScope = "default"

// Options tune the breaker.
type Options struct {
	// FailureRatio is the failed fraction of a batch at or above which
	// the whole batch counts as failed. Ratio-based so a single bad
	// record in a healthy batch cannot trip the breaker.
	FailureRatio float64
	// TripAfter is the number of consecutive failed batches that opens
	// the breaker.
	TripAfter int
	// RecoveryDelay is how long the breaker stays open before allowing
	// a probe.
	RecoveryDelay time.Duration
	// ProbeTTL bounds one probe's exclusivity. It must exceed
	// RecoveryDelay plus the worst-case batch processing time so a
	// second probe cannot launch while the first is still in flight.
	ProbeTTL time.Duration
	// StaleOpenCeiling auto-heals an open state this old back to
	// closed.
	StaleOpenCeiling time.Duration
}

// DefaultOptions returns the breaker defaults.
func DefaultOptions() *Options {
	return &Options{
		FailureRatio:     0.8,
		TripAfter:        3,
		RecoveryDelay:    5 * time.Minute,
		ProbeTTL:         7 * time.Minute,
		StaleOpenCeiling: time.Hour,
	}
}

type record struct {
	State          State `json:"state"`
	FailedBatches  int   `json:"failed_batches"`
	OpenedAt       int64 `json:"opened_at"`
	ProbeStartedAt int64 `json:"probe_started_at"`
}

// Decision is the outcome of Allow.
type Decision struct {
	Proceed bool
	// Probe marks this batch as the single half-open probe.
	Probe bool
}

// Breaker is a durable, batch-ratio circuit breaker for one scope.
type Breaker struct {
	db     *sql.DB
	driver string
	rc     *redis.Client
	fast   *cache.Cache[record]
	scope  string
	opts   *Options
	mu     sync.Mutex
}

// New creates a breaker for the given scope.
func New(d *data.Data, scope string, opts *Options) *Breaker {
	if scope == "" {
		scope = DefaultScope
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Breaker{
		db:     d.DB,
		driver: d.Driver(),
		rc:     d.RC,
		fast:   cache.New[record](d.RC, "syncbridge:breaker"),
		scope:  scope,
		opts:   opts,
	}
}

// Allow reports whether the engine may contact the remote system right
// now. In half-open state at most one caller receives Probe=true until
// the probe TTL expires.
func (b *Breaker) Allow(ctx context.Context, now time.Time) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.load(ctx)
	if err != nil {
		return Decision{}, err
	}

	switch rec.State {
	case StateOpen:
		openedAt := time.UnixMilli(rec.OpenedAt)
		if b.opts.StaleOpenCeiling > 0 && now.Sub(openedAt) >= b.opts.StaleOpenCeiling {
			// The close signal was missed; heal rather than stay wedged.
			rec = record{State: StateClosed}
			if err := b.save(ctx, rec); err != nil {
				return Decision{}, err
			}
			return Decision{Proceed: true}, nil
		}
		if now.Sub(openedAt) < b.opts.RecoveryDelay {
			return Decision{}, nil
		}
		rec.State = StateHalfOpen
		if err := b.save(ctx, rec); err != nil {
			return Decision{}, err
		}
		fallthrough
	case StateHalfOpen:
		ok, err := b.acquireProbe(ctx, now)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return Decision{}, nil
		}
		return Decision{Proceed: true, Probe: true}, nil
	default:
		return Decision{Proceed: true}, nil
	}
}

// RecordBatch records one batch outcome and applies state transitions.
// A batch counts as failed only when failures reach the configured
// ratio of the batch.
func (b *Breaker) RecordBatch(ctx context.Context, successes, failures int, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.load(ctx)
	if err != nil {
		return err
	}

	total := successes + failures
	batchFailed := total > 0 && failures > 0 && float64(failures) >= b.opts.FailureRatio*float64(total)

	switch rec.State {
	case StateHalfOpen:
		b.releaseProbe(ctx)
		if batchFailed {
			rec = record{State: StateOpen, FailedBatches: b.opts.TripAfter, OpenedAt: now.UnixMilli()}
		} else {
			rec = record{State: StateClosed}
		}
	default:
		if batchFailed {
			rec.FailedBatches++
			if rec.FailedBatches >= b.opts.TripAfter {
				rec = record{State: StateOpen, FailedBatches: rec.FailedBatches, OpenedAt: now.UnixMilli()}
			}
		} else {
			rec.FailedBatches = 0
		}
	}
	return b.save(ctx, rec)
}

// State returns the current breaker state for monitoring.
func (b *Breaker) State(ctx context.Context) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, err := b.load(ctx)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// CancelProbe releases an unused probe slot without recording an
// outcome, for the case where a probe was granted but no work was due.
func (b *Breaker) CancelProbe(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseProbe(ctx)
}

// Reset forces the breaker closed and clears counters.
func (b *Breaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseProbe(ctx)
	return b.save(ctx, record{State: StateClosed})
}

func (b *Breaker) probeKey() string {
	return fmt.Sprintf("syncbridge:breaker:probe:%s", b.scope)
}

// acquireProbe grants probe exclusivity to exactly one caller. The
// redis path uses SETNX with TTL; without redis a conditional update on
// the durable row plays the same role.
func (b *Breaker) acquireProbe(ctx context.Context, now time.Time) (bool, error) {
	if b.rc != nil {
		ok, err := b.rc.SetNX(ctx, b.probeKey(), now.UnixMilli(), b.opts.ProbeTTL).Result()
		if err != nil {
			return false, fmt.Errorf("failed to acquire probe gate: %w", err)
		}
		return ok, nil
	}

	cutoff := now.Add(-b.opts.ProbeTTL).UnixMilli()
	q := data.Rebind(b.driver, `UPDATE sync_breaker SET probe_started_at = ?
		WHERE scope = ? AND (probe_started_at = 0 OR probe_started_at <= ?)`)
	res, err := b.db.ExecContext(ctx, q, now.UnixMilli(), b.scope, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to acquire probe gate: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (b *Breaker) releaseProbe(ctx context.Context) {
	if b.rc != nil {
		_ = b.rc.Del(ctx, b.probeKey()).Err()
		return
	}
	q := data.Rebind(b.driver, `UPDATE sync_breaker SET probe_started_at = 0 WHERE scope = ?`)
	_, _ = b.db.ExecContext(ctx, q, b.scope)
}

// load reads the state, preferring the redis fast path and falling
// back to the durable row. Absent state means closed.
func (b *Breaker) load(ctx context.Context) (record, error) {
	if cached, err := b.fast.Get(ctx, b.scope); err == nil {
		return *cached, nil
	}

	var rec record
	var state string
	q := data.Rebind(b.driver, `SELECT state, failed_batches, opened_at, probe_started_at FROM sync_breaker WHERE scope = ?`)
	err := b.db.QueryRowContext(ctx, q, b.scope).Scan(&state, &rec.FailedBatches, &rec.OpenedAt, &rec.ProbeStartedAt)
	if err == sql.ErrNoRows {
		return record{State: StateClosed}, nil
	}
	if err != nil {
		return record{}, fmt.Errorf("failed to load breaker state: %w", err)
	}
	rec.State = State(state)
	return rec, nil
}

// save writes the durable row first, then refreshes the fast path.
func (b *Breaker) save(ctx context.Context, rec record) error {
	var q string
	switch b.driver {
	case "mysql":
		q = `INSERT INTO sync_breaker (scope, state, failed_batches, opened_at, probe_started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE state = VALUES(state), failed_batches = VALUES(failed_batches),
			opened_at = VALUES(opened_at), probe_started_at = VALUES(probe_started_at), updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO sync_breaker (scope, state, failed_batches, opened_at, probe_started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (scope) DO UPDATE SET state = excluded.state, failed_batches = excluded.failed_batches,
			opened_at = excluded.opened_at, probe_started_at = excluded.probe_started_at, updated_at = excluded.updated_at`
	}
	q = data.Rebind(b.driver, q)
	_, err := b.db.ExecContext(ctx, q, b.scope, string(rec.State), rec.FailedBatches,
		rec.OpenedAt, rec.ProbeStartedAt, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save breaker state: %w", err)
	}
	_ = b.fast.Set(ctx, b.scope, &rec)
	return nil
}
