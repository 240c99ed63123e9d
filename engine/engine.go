// Package engine drives the synchronization loop: it claims due jobs
// from the queue, consults the circuit breaker, delegates each job (or
// batch) to the module's target adapter, classifies outcomes and writes
// results back to the job store and identity map. A periodic external
// driver invokes Process; the engine itself never blocks on I/O it does
// not own.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/breaker"
	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/identity"
	"github.com/syncbridge/syncbridge/logging/logger"
	"github.com/syncbridge/syncbridge/notify"
	"github.com/syncbridge/syncbridge/queue"

	"github.com/google/uuid"
)

// SkipReason explains why a Process invocation did no work.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipLockHeld      SkipReason = "lock_held"
	SkipMemoryCeiling SkipReason = "memory_ceiling"
)

// Report summarizes one Process invocation.
type Report struct {
	Skipped    SkipReason `json:"skipped,omitempty"`
	Recovered  int64      `json:"recovered"`
	Claimed    int        `json:"claimed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Released   int        `json:"released"`
	Iterations int        `json:"iterations"`
	DryRun     bool       `json:"dry_run,omitempty"`
	Elapsed    time.Duration
}

// Engine is the sync orchestrator. All collaborators are injected.
type Engine struct {
	store    *queue.Store
	ids      *identity.Store
	brk      *breaker.Breaker
	tracker  *notify.Tracker
	resolver adapter.Resolver
	locker   Locker
	log      *logger.Logger
	cfg      *config.Engine

	// module scopes this engine to one integration's jobs and lock;
	// empty means the shared default queue under the global lock.
	module string
}

// New creates an engine.
func New(store *queue.Store, ids *identity.Store, brk *breaker.Breaker, tracker *notify.Tracker,
	resolver adapter.Resolver, locker Locker, log *logger.Logger, cfg *config.Engine) *Engine {
	if cfg == nil {
		cfg = &config.Engine{
			BatchSize:     50,
			MaxIterations: 10,
			TimeBudget:    45 * time.Second,
			MaxAttempts:   3,
			BaseDelay:     30 * time.Second,
			StaleTimeout:  10 * time.Minute,
			LockTTL:       5 * time.Minute,
		}
	}
	return &Engine{
		store:    store,
		ids:      ids,
		brk:      brk,
		tracker:  tracker,
		resolver: resolver,
		locker:   locker,
		log:      log,
		cfg:      cfg,
	}
}

// ForModule returns a copy of the engine scoped to one module: it
// claims only that module's jobs and runs under a per-module lock so
// independent integrations do not block each other.
func (e *Engine) ForModule(module string) *Engine {
	scoped := *e
	scoped.module = module
	return &scoped
}

func (e *Engine) lockName() string {
	if e.module != "" {
		return "engine:" + e.module
	}
	return "engine:global"
}

// Enqueue validates and queues one unit of sync work through the dedup
// path, stamping a correlation id and the configured debounce window.
func (e *Engine) Enqueue(ctx context.Context, spec *queue.Spec) (int64, error) {
	if spec.CorrelationID == "" {
		if id := logger.GetTraceID(ctx); id != "" {
			spec.CorrelationID = id
		} else {
			spec.CorrelationID = uuid.NewString()
		}
	}
	if spec.Debounce == 0 && spec.Dedupable() {
		spec.Debounce = e.cfg.Debounce
	}
	if spec.MaxAttempts == 0 {
		spec.MaxAttempts = e.cfg.MaxAttempts
	}
	return e.store.Enqueue(ctx, spec)
}

// Process runs one engine invocation: recover stale work, then claim
// and dispatch batches until the queue drains or the time/iteration
// budget runs out. Returns without blocking when another invocation
// holds the run lock.
func (e *Engine) Process(ctx context.Context) (*Report, error) {
	ctx, _ = logger.EnsureTraceID(ctx)
	start := time.Now()
	report := &Report{DryRun: e.cfg.DryRun}

	release, ok, err := e.locker.TryAcquire(ctx, e.lockName(), e.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		report.Skipped = SkipLockHeld
		return report, nil
	}
	// Lock release is the one cleanup guaranteed on every path.
	defer release()

	if e.overMemoryCeiling() {
		e.log.WithCtx(ctx).Warn("skipping sync run: memory ceiling reached")
		report.Skipped = SkipMemoryCeiling
		return report, nil
	}

	// Recover first so stale jobs are claimable in this very run.
	recovered, err := e.store.RecoverStale(ctx, e.cfg.StaleTimeout, start)
	if err != nil {
		return report, fmt.Errorf("stale recovery failed: %w", err)
	}
	report.Recovered = recovered

	for i := 0; i < e.cfg.MaxIterations; i++ {
		if e.cfg.TimeBudget > 0 && time.Since(start) >= e.cfg.TimeBudget {
			break
		}
		report.Iterations++

		decision, err := e.brk.Allow(ctx, time.Now())
		if err != nil {
			return report, fmt.Errorf("breaker check failed: %w", err)
		}
		if !decision.Proceed {
			e.log.WithCtx(ctx).Info("circuit breaker open, deferring queued jobs")
			break
		}

		jobs, err := e.store.ClaimDue(ctx, e.module, e.cfg.BatchSize, time.Now())
		if err != nil {
			if decision.Probe {
				e.brk.CancelProbe(ctx)
			}
			return report, fmt.Errorf("claim failed: %w", err)
		}
		if len(jobs) == 0 {
			if decision.Probe {
				e.brk.CancelProbe(ctx)
			}
			break
		}
		report.Claimed += len(jobs)

		succeeded, failed, orphaned, released := e.dispatchBatch(ctx, jobs)
		report.Succeeded += succeeded
		report.Failed += failed + orphaned
		report.Released += released

		// Orphaned jobs never reached the remote side, so they say
		// nothing about its health and stay out of the breaker.
		if succeeded+failed > 0 {
			if err := e.brk.RecordBatch(ctx, succeeded, failed, time.Now()); err != nil {
				e.log.WithCtx(ctx).WithError(err).Warn("failed to record batch outcome")
			}
		} else if decision.Probe {
			e.brk.CancelProbe(ctx)
		}

		// One invalidation per batch, not per job.
		e.store.InvalidateStats(ctx)

		// A dry run releases what it claims; iterating again would just
		// re-claim the same jobs.
		if e.cfg.DryRun {
			break
		}
	}

	report.Elapsed = time.Since(start)
	e.log.WithCtx(ctx).WithFields(map[string]any{
		"module":    e.module,
		"claimed":   report.Claimed,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"recovered": report.Recovered,
		"elapsed":   report.Elapsed.String(),
	}).Info("sync run finished")
	return report, nil
}

// dispatchBatch sends one claimed batch through batch grouping and
// individual dispatch. Orphaned jobs (module no longer resolves) are
// counted apart from adapter failures: no adapter was called for them.
func (e *Engine) dispatchBatch(ctx context.Context, jobs []*queue.Job) (succeeded, failed, orphaned, released int) {
	now := time.Now()

	// Jobs whose module no longer resolves fail permanently as a group
	// instead of sitting stuck.
	var live []*queue.Job
	for _, job := range jobs {
		if e.resolver.Resolve(job.Module) == nil {
			if err := e.store.Fail(ctx, job.ID, "module disabled or removed", true, now); err != nil {
				e.log.WithCtx(ctx).WithError(err).WithField("job_id", job.ID).Warn("failed to fail orphaned job")
			}
			orphaned++
			continue
		}
		live = append(live, job)
	}

	if e.cfg.DryRun {
		for _, job := range live {
			e.log.WithCtx(ctx).WithFields(map[string]any{
				"job_id": job.ID, "module": job.Module, "entity_type": job.EntityType,
				"action": job.Action, "attempt": job.Attempts + 1,
			}).Info("dry run: would dispatch job")
			if err := e.store.Release(ctx, job.ID); err != nil {
				e.log.WithCtx(ctx).WithError(err).WithField("job_id", job.ID).Warn("failed to release dry-run job")
			}
			released++
		}
		return succeeded, failed, orphaned, released
	}

	handled := make(map[int64]bool, len(live))

	// Batch grouping: outbound creates sharing (module, entity_type)
	// go to the adapter's batch capability in one remote call.
	for _, group := range groupCreates(live) {
		batcher, ok := e.resolver.Resolve(group[0].Module).(adapter.BatchPusher)
		if !ok {
			continue
		}
		results := safePushBatch(ctx, batcher, group)
		if len(results) != len(group) {
			// Batch call failed as a whole; fall back to individual
			// dispatch so one bad record cannot sink the group.
			continue
		}
		for i, job := range group {
			e.applyResult(ctx, job, results[i], &succeeded, &failed)
			handled[job.ID] = true
		}
	}

	for _, job := range live {
		if handled[job.ID] {
			continue
		}
		target := e.resolver.Resolve(job.Module)
		result := safeCall(ctx, target, job)
		e.applyResult(ctx, job, result, &succeeded, &failed)
	}
	return succeeded, failed, orphaned, released
}

// applyResult classifies one job outcome and writes it back to the job
// store, identity map and failure tracker.
func (e *Engine) applyResult(ctx context.Context, job *queue.Job, result adapter.Result, succeeded, failed *int) {
	now := time.Now()
	if !result.Success {
		permanent := result.Kind == adapter.KindPermanent
		if err := e.store.Fail(ctx, job.ID, result.Err, permanent, now); err != nil {
			e.log.WithCtx(ctx).WithError(err).WithField("job_id", job.ID).Warn("failed to record job failure")
		}
		if err := e.tracker.RecordFailure(ctx, job.Module, result.Err); err != nil {
			e.log.WithCtx(ctx).WithError(err).Warn("failed to track failure streak")
		}
		*failed++
		return
	}

	if err := e.store.Complete(ctx, job.ID); err != nil {
		e.log.WithCtx(ctx).WithError(err).WithField("job_id", job.ID).Warn("failed to complete job")
	}
	e.updateIdentity(ctx, job, result)
	if err := e.tracker.RecordSuccess(ctx, job.Module); err != nil {
		e.log.WithCtx(ctx).WithError(err).Warn("failed to reset failure streak")
	}
	*succeeded++
}

// updateIdentity maintains the cross-system identity map after a
// successful dispatch.
func (e *Engine) updateIdentity(ctx context.Context, job *queue.Job, result adapter.Result) {
	remoteID := result.RemoteID
	if remoteID == 0 {
		remoteID = job.RemoteID
	}
	if job.LocalID == 0 || remoteID == 0 {
		return
	}
	entry := &identity.Entry{
		Module:     job.Module,
		EntityType: job.EntityType,
		LocalID:    job.LocalID,
		RemoteID:   remoteID,
	}
	if job.Action == queue.ActionDelete {
		if err := e.ids.Remove(ctx, entry); err != nil {
			e.log.WithCtx(ctx).WithError(err).WithField("job_id", job.ID).Warn("failed to remove identity mapping")
		}
		return
	}
	entry.RemoteModel = job.EntityType
	entry.ContentHash = identity.Hash(job.Payload)
	entry.LastSyncedAt = time.Now()
	if err := e.ids.Save(ctx, entry); err != nil {
		e.log.WithCtx(ctx).WithError(err).WithField("job_id", job.ID).Warn("failed to save identity mapping")
	}
}

func (e *Engine) overMemoryCeiling() bool {
	if e.cfg.MemoryCeiling == 0 {
		return false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc > e.cfg.MemoryCeiling
}

// groupCreates collects outbound create jobs into per-(module, entity
// type) groups of at least two, preserving claim order.
func groupCreates(jobs []*queue.Job) [][]*queue.Job {
	byKey := make(map[string][]*queue.Job)
	var order []string
	for _, job := range jobs {
		if job.Action != queue.ActionCreate || job.Direction != queue.DirectionOutbound {
			continue
		}
		key := job.Module + "|" + job.EntityType
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], job)
	}

	var groups [][]*queue.Job
	for _, key := range order {
		if group := byKey[key]; len(group) >= 2 {
			groups = append(groups, group)
		}
	}
	return groups
}

// safeCall dispatches one job with a panic guard: an adapter panic
// becomes a classified transient failure and never aborts the run.
func safeCall(ctx context.Context, target adapter.TargetAdapter, job *queue.Job) (result adapter.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = adapter.Failed(adapter.KindTransient, fmt.Sprintf("adapter panic: %v", r))
		}
	}()
	if job.Direction == queue.DirectionInbound {
		return target.Pull(ctx, job)
	}
	return target.Push(ctx, job)
}

// safePushBatch calls the batch capability with the same panic guard;
// a panic reports as a failed batch call (nil results) which triggers
// the individual fallback.
func safePushBatch(ctx context.Context, batcher adapter.BatchPusher, jobs []*queue.Job) (results []adapter.Result) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
		}
	}()
	return batcher.PushBatch(ctx, jobs)
}
