package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/syncbridge/syncbridge/cache"
	"github.com/syncbridge/syncbridge/data"

	"github.com/go-playground/validator/v10"
)

const jobColumns = `id, module, direction, entity_type, local_id, remote_id, action, payload,
	priority, status, attempts, max_attempts, last_error, scheduled_at, processed_at, created_at, correlation_id`

// Options tune store behavior.
type Options struct {
	MaxPayloadSize     int           // bytes; larger payloads are rejected
	DefaultMaxAttempts int           // used when a spec does not set one
	BaseDelay          time.Duration // exponential backoff base
	DefaultPriority    int           // used when a spec leaves priority zero
}

// DefaultOptions returns the store defaults.
func DefaultOptions() *Options {
	return &Options{
		MaxPayloadSize:     1 << 20,
		DefaultMaxAttempts: 3,
		BaseDelay:          30 * time.Second,
		DefaultPriority:    10,
	}
}

// Store is the durable job queue.
type Store struct {
	db       *sql.DB
	driver   string
	opts     *Options
	validate *validator.Validate
	stats    *cache.Cache[Stats]
}

// NewStore creates a job store on the given data layer.
func NewStore(d *data.Data, opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Store{
		db:       d.DB,
		driver:   d.Driver(),
		opts:     opts,
		validate: validator.New(),
		stats:    cache.New[Stats](d.RC, "syncbridge:queue:stats"),
	}
}

func (s *Store) rebind(q string) string {
	return data.Rebind(s.driver, q)
}

// forUpdate appends a row lock clause on engines that support it.
// SQLite serializes writers at the connection level instead.
func (s *Store) forUpdate(q string) string {
	if s.driver == "sqlite3" {
		return q
	}
	return q + " FOR UPDATE"
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Enqueue validates the spec and inserts a pending job, coalescing with
// an existing pending job for the same tuple. The lookup alone cannot
// close the race between two first-time enqueues (neither sees a row to
// lock), so the active-tuple unique index is the real guard: the loser
// of the race gets a unique violation and retries, coalescing with the
// winner's row. Returns the id of the inserted or coalesced job.
func (s *Store) Enqueue(ctx context.Context, spec *Spec) (int64, error) {
	if err := s.validate.Struct(spec); err != nil {
		return 0, fmt.Errorf("invalid job spec: %w", err)
	}
	if s.opts.MaxPayloadSize > 0 && len(spec.Payload) > s.opts.MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, len(spec.Payload), s.opts.MaxPayloadSize)
	}

	var lastErr error
	for attempt := 0; attempt < enqueueRetries; attempt++ {
		id, err := s.enqueueOnce(ctx, spec)
		if err == nil {
			return id, nil
		}
		if !data.IsUniqueViolation(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("enqueue kept losing dedup races: %w", lastErr)
}

const enqueueRetries = 3

func (s *Store) enqueueOnce(ctx context.Context, spec *Spec) (int64, error) {
	now := time.Now()
	scheduledAt := now.Add(spec.Debounce)
	priority := spec.Priority
	if priority == 0 {
		priority = s.opts.DefaultPriority
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.opts.DefaultMaxAttempts
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	if spec.Dedupable() {
		var id int64
		var status string
		q := s.forUpdate(s.rebind(`SELECT id, status FROM sync_jobs
			WHERE module = ? AND entity_type = ? AND direction = ? AND local_id = ? AND remote_id = ?
			AND status IN ('pending', 'processing') ORDER BY id LIMIT 1`))
		err := tx.QueryRowContext(ctx, q, spec.Module, spec.EntityType, spec.Direction, spec.LocalID, spec.RemoteID).
			Scan(&id, &status)
		switch {
		case err == nil && Status(status) == StatusPending:
			// Coalesce: the latest trigger wins the payload and schedule.
			upd := s.rebind(`UPDATE sync_jobs SET payload = ?, priority = ?, scheduled_at = ?, correlation_id = ?
				WHERE id = ? AND status = 'pending'`)
			if _, err := tx.ExecContext(ctx, upd, spec.Payload, priority, toMillis(scheduledAt), spec.CorrelationID, id); err != nil {
				return 0, fmt.Errorf("failed to coalesce job: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("failed to commit enqueue: %w", err)
			}
			return id, nil
		case err == nil:
			// A processing job for this tuple is already in flight; a
			// second pending row would break the per-tuple invariant.
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("failed to commit enqueue: %w", err)
			}
			return id, nil
		case err != sql.ErrNoRows:
			return 0, fmt.Errorf("failed dedup lookup: %w", err)
		}
	}

	id, err := s.insertJob(ctx, tx, spec, priority, maxAttempts, scheduledAt, now)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return id, nil
}

func (s *Store) insertJob(ctx context.Context, tx *sql.Tx, spec *Spec, priority, maxAttempts int, scheduledAt, now time.Time) (int64, error) {
	ins := `INSERT INTO sync_jobs (module, direction, entity_type, local_id, remote_id, action, payload,
		priority, status, attempts, max_attempts, last_error, scheduled_at, processed_at, created_at, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, '', ?, 0, ?, ?)`
	args := []any{spec.Module, spec.Direction, spec.EntityType, spec.LocalID, spec.RemoteID, spec.Action,
		spec.Payload, priority, maxAttempts, toMillis(scheduledAt), toMillis(now), spec.CorrelationID}

	if s.driver == "pgx" {
		var id int64
		q := data.Rebind(s.driver, ins) + " RETURNING id"
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to insert job: %w", err)
		}
		return id, nil
	}

	res, err := tx.ExecContext(ctx, ins, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted job id: %w", err)
	}
	return id, nil
}

// ClaimDue atomically moves up to limit due pending jobs to processing
// and returns them, ordered by (priority, scheduled_at, id). An empty
// module claims across all modules. The transition is guarded by the
// previous status so no two concurrent claimers can take the same job.
func (s *Store) ClaimDue(ctx context.Context, module string, limit int, now time.Time) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim tx: %w", err)
	}
	defer tx.Rollback()

	sel := `SELECT id FROM sync_jobs WHERE status = 'pending' AND scheduled_at <= ?`
	args := []any{toMillis(now)}
	if module != "" {
		sel += ` AND module = ?`
		args = append(args, module)
	}
	sel += ` ORDER BY priority ASC, scheduled_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, s.rebind(sel), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select due jobs: %w", err)
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due jobs: %w", err)
	}

	claim := s.rebind(`UPDATE sync_jobs SET status = 'processing', processed_at = ?
		WHERE id = ? AND status = 'pending'`)
	var claimed []int64
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx, claim, toMillis(now), id)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, id)
		}
	}

	jobs := make([]*Job, 0, len(claimed))
	get := s.rebind(`SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = ?`)
	for _, id := range claimed {
		job, err := scanJob(tx.QueryRowContext(ctx, get, id))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return jobs, nil
}

// Release returns a claimed job to pending without counting an
// attempt, for runs that claimed but never dispatched (breaker open
// mid-run, dry-run rehearsal).
func (s *Store) Release(ctx context.Context, id int64) error {
	q := s.rebind(`UPDATE sync_jobs SET status = 'pending', processed_at = 0 WHERE id = ? AND status = 'processing'`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to release job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete marks a processing job as completed.
func (s *Store) Complete(ctx context.Context, id int64) error {
	q := s.rebind(`UPDATE sync_jobs SET status = 'completed', last_error = '' WHERE id = ? AND status = 'processing'`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a failure on a processing job. Transient failures are
// rescheduled with exponential backoff until max_attempts; permanent
// failures go straight to failed.
func (s *Store) Fail(ctx context.Context, id int64, errMsg string, permanent bool, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fail tx: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	q := s.forUpdate(s.rebind(`SELECT attempts, max_attempts FROM sync_jobs WHERE id = ? AND status = 'processing'`))
	if err := tx.QueryRowContext(ctx, q, id).Scan(&attempts, &maxAttempts); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read job %d: %w", id, err)
	}

	attempts++
	if permanent || attempts >= maxAttempts {
		upd := s.rebind(`UPDATE sync_jobs SET status = 'failed', attempts = ?, last_error = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, upd, attempts, errMsg, id); err != nil {
			return fmt.Errorf("failed to mark job %d failed: %w", id, err)
		}
	} else {
		next := now.Add(NextDelay(attempts, s.opts.BaseDelay))
		upd := s.rebind(`UPDATE sync_jobs SET status = 'pending', attempts = ?, last_error = ?, scheduled_at = ?, processed_at = 0 WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, upd, attempts, errMsg, toMillis(next), id); err != nil {
			return fmt.Errorf("failed to reschedule job %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fail: %w", err)
	}
	return nil
}

// RecoverStale re-queues jobs stuck in processing longer than timeout
// since they were claimed. A recovery counts as an attempt; jobs out of
// attempts are marked failed rather than requeued so a crashing job
// cannot retry forever.
func (s *Store) RecoverStale(ctx context.Context, timeout time.Duration, now time.Time) (int64, error) {
	cutoff := toMillis(now.Add(-timeout))

	failQ := s.rebind(`UPDATE sync_jobs SET status = 'failed', attempts = attempts + 1,
		last_error = 'recovered from stale processing: attempts exhausted'
		WHERE status = 'processing' AND processed_at > 0 AND processed_at <= ? AND attempts + 1 >= max_attempts`)
	if _, err := s.db.ExecContext(ctx, failQ, cutoff); err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}

	requeueQ := s.rebind(`UPDATE sync_jobs SET status = 'pending', attempts = attempts + 1,
		scheduled_at = ?, processed_at = 0, last_error = 'recovered from stale processing'
		WHERE status = 'processing' AND processed_at > 0 AND processed_at <= ? AND attempts + 1 < max_attempts`)
	res, err := s.db.ExecContext(ctx, requeueQ, toMillis(now), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Cancel cancels a pending job. Processing jobs cannot be cancelled
// mid-flight.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	q := s.rebind(`UPDATE sync_jobs SET status = 'cancelled' WHERE id = ? AND status = 'pending'`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to cancel job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		check := s.rebind(`SELECT status FROM sync_jobs WHERE id = ?`)
		if err := s.db.QueryRowContext(ctx, check, id).Scan(&status); err != nil {
			return ErrNotFound
		}
		return fmt.Errorf("%w: status is %s", ErrNotPending, status)
	}
	return nil
}

// RetryFailed re-arms failed jobs as pending with reset attempts. Jobs
// are re-armed one by one: a failed job whose tuple has since gained a
// fresh active job would trip the active-tuple index, and that newer
// job already represents the work, so the old failure is skipped.
func (s *Store) RetryFailed(ctx context.Context, now time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sync_jobs WHERE status = 'failed' ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan failed job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	q := s.rebind(`UPDATE sync_jobs SET status = 'pending', attempts = 0, last_error = '', scheduled_at = ?, processed_at = 0
		WHERE id = ? AND status = 'failed'`)
	var n int64
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, q, toMillis(now), id)
		if err != nil {
			if data.IsUniqueViolation(err) {
				continue
			}
			return n, fmt.Errorf("failed to retry job %d: %w", id, err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, nil
}

// Cleanup purges terminal jobs created before the cutoff.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	q := s.rebind(`DELETE FROM sync_jobs WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < ?`)
	res, err := s.db.ExecContext(ctx, q, toMillis(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Get returns one job by id.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	q := s.rebind(`SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = ?`)
	job, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return job, err
}

// List returns a page of jobs, newest first, and the total count.
func (s *Store) List(ctx context.Context, page, perPage int) ([]*Job, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	q := s.rebind(`SELECT ` + jobColumns + ` FROM sync_jobs ORDER BY id DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, q, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// Stats returns queue depth by status, served from cache when warm.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if cached, err := s.stats.Get(ctx, "all"); err == nil {
		return cached, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			st.Pending = count
		case StatusProcessing:
			st.Processing = count
		case StatusCompleted:
			st.Completed = count
		case StatusFailed:
			st.Failed = count
		case StatusCancelled:
			st.Cancelled = count
		}
		st.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_ = s.stats.Set(ctx, "all", st, time.Minute)
	return st, nil
}

// InvalidateStats drops the cached stats snapshot. The engine calls
// this once per processed batch, not per job.
func (s *Store) InvalidateStats(ctx context.Context) {
	_ = s.stats.Delete(ctx, "all")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var scheduledAt, processedAt, createdAt int64
	err := row.Scan(&j.ID, &j.Module, &j.Direction, &j.EntityType, &j.LocalID, &j.RemoteID, &j.Action,
		&j.Payload, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts, &j.LastError,
		&scheduledAt, &processedAt, &createdAt, &j.CorrelationID)
	if err != nil {
		return nil, err
	}
	j.ScheduledAt = fromMillis(scheduledAt)
	j.ProcessedAt = fromMillis(processedAt)
	j.CreatedAt = fromMillis(createdAt)
	return &j, nil
}

func scanJobRows(rows *sql.Rows) (*Job, error) {
	job, err := scanJob(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}
