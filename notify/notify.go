// Package notify raises an external alert when job processing keeps
// failing. Alerts are throttled by a cooldown so an outage produces one
// notification, not a flood.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/syncbridge/syncbridge/data"

	"github.com/redis/go-redis/v9"
)

// GlobalScope is the tracker scope used when failures are not counted
// per module.
const GlobalScope = "global"

// Notifier delivers an alert to an external channel.
type Notifier interface {
	Alert(ctx context.Context, message string, fields map[string]any)
}

// Options tune the failure tracker.
type Options struct {
	// Threshold is the consecutive-failure count that raises an alert.
	Threshold int
	// Cooldown is the minimum interval between two alerts for the same
	// scope.
	Cooldown time.Duration
	// PerModule scopes the counter per module instead of globally.
	PerModule bool
}

// DefaultOptions returns the tracker defaults.
func DefaultOptions() *Options {
	return &Options{
		Threshold: 10,
		Cooldown:  time.Hour,
	}
}

// Tracker counts consecutive job failures in the durable store and
// notifies past the threshold. The counter lives store-side (atomic
// SQL update, redis INCR fast path) so cooperating workers share it.
type Tracker struct {
	db       *sql.DB
	driver   string
	rc       *redis.Client
	opts     *Options
	notifier Notifier
}

// NewTracker creates a failure tracker.
func NewTracker(d *data.Data, notifier Notifier, opts *Options) *Tracker {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Tracker{
		db:       d.DB,
		driver:   d.Driver(),
		rc:       d.RC,
		opts:     opts,
		notifier: notifier,
	}
}

func (t *Tracker) scope(module string) string {
	if t.opts.PerModule && module != "" {
		return module
	}
	return GlobalScope
}

// RecordFailure increments the consecutive-failure counter for the
// job's module and raises a throttled alert when the streak crosses
// the threshold.
func (t *Tracker) RecordFailure(ctx context.Context, module, reason string) error {
	scope := t.scope(module)
	count, err := t.increment(ctx, scope)
	if err != nil {
		return err
	}
	if count < int64(t.opts.Threshold) {
		return nil
	}

	notified, err := t.markNotified(ctx, scope, time.Now())
	if err != nil {
		return err
	}
	if notified && t.notifier != nil {
		t.notifier.Alert(ctx, fmt.Sprintf("sync processing failing repeatedly (scope %s)", scope), map[string]any{
			"scope":                scope,
			"consecutive_failures": count,
			"last_error":           reason,
		})
	}
	return nil
}

// RecordSuccess resets the streak for the job's module. Any single
// successful job clears the counter.
func (t *Tracker) RecordSuccess(ctx context.Context, module string) error {
	scope := t.scope(module)
	if t.rc != nil {
		_ = t.rc.Del(ctx, t.counterKey(scope)).Err()
	}
	q := data.Rebind(t.driver, `UPDATE sync_failures SET consecutive_failures = 0, updated_at = ? WHERE scope = ?`)
	if _, err := t.db.ExecContext(ctx, q, time.Now().UnixMilli(), scope); err != nil {
		return fmt.Errorf("failed to reset failure counter: %w", err)
	}
	return nil
}

// Failures returns the current consecutive-failure count for a module.
func (t *Tracker) Failures(ctx context.Context, module string) (int64, error) {
	scope := t.scope(module)
	var count int64
	q := data.Rebind(t.driver, `SELECT consecutive_failures FROM sync_failures WHERE scope = ?`)
	err := t.db.QueryRowContext(ctx, q, scope).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read failure counter: %w", err)
	}
	return count, nil
}

func (t *Tracker) counterKey(scope string) string {
	return fmt.Sprintf("syncbridge:failures:%s", scope)
}

// increment bumps the durable counter atomically and returns the new
// value.
func (t *Tracker) increment(ctx context.Context, scope string) (int64, error) {
	now := time.Now().UnixMilli()
	var q string
	switch t.driver {
	case "mysql":
		q = `INSERT INTO sync_failures (scope, consecutive_failures, last_notified_at, updated_at)
			VALUES (?, 1, 0, ?)
			ON DUPLICATE KEY UPDATE consecutive_failures = consecutive_failures + 1, updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO sync_failures (scope, consecutive_failures, last_notified_at, updated_at)
			VALUES (?, 1, 0, ?)
			ON CONFLICT (scope) DO UPDATE SET consecutive_failures = sync_failures.consecutive_failures + 1, updated_at = excluded.updated_at`
	}
	if _, err := t.db.ExecContext(ctx, data.Rebind(t.driver, q), scope, now); err != nil {
		return 0, fmt.Errorf("failed to increment failure counter: %w", err)
	}

	var count int64
	sel := data.Rebind(t.driver, `SELECT consecutive_failures FROM sync_failures WHERE scope = ?`)
	if err := t.db.QueryRowContext(ctx, sel, scope).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read failure counter: %w", err)
	}

	if t.rc != nil {
		_ = t.rc.Set(ctx, t.counterKey(scope), count, 0).Err()
	}
	return count, nil
}

// markNotified claims the right to notify: a conditional update that
// succeeds for exactly one caller per cooldown window.
func (t *Tracker) markNotified(ctx context.Context, scope string, now time.Time) (bool, error) {
	cutoff := now.Add(-t.opts.Cooldown).UnixMilli()
	q := data.Rebind(t.driver, `UPDATE sync_failures SET last_notified_at = ?
		WHERE scope = ? AND last_notified_at <= ?`)
	res, err := t.db.ExecContext(ctx, q, now.UnixMilli(), scope, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
