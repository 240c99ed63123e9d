// Package adapter defines the boundary between the sync engine and the
// per-integration code that talks to the remote system. The engine
// depends only on these interfaces; each integration supplies one
// implementation.
package adapter

import (
	"context"

	"github.com/syncbridge/syncbridge/queue"
)

// ErrorKind classifies a failure for retry policy.
type ErrorKind int

const (
	// KindTransient failures (network, 5xx, 429, timeout) retry with
	// backoff.
	KindTransient ErrorKind = iota
	// KindPermanent failures (validation, malformed payload, access
	// denied) fail immediately; retrying an unchanged request cannot
	// succeed.
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Result is the outcome of one adapter call for one job.
type Result struct {
	Success  bool
	RemoteID int64
	Err      string
	Kind     ErrorKind
}

// OK returns a successful result carrying the remote id.
func OK(remoteID int64) Result {
	return Result{Success: true, RemoteID: remoteID}
}

// Failed returns a classified failure result.
func Failed(kind ErrorKind, err string) Result {
	return Result{Kind: kind, Err: err}
}

// TargetAdapter performs the actual remote calls for one integration.
// Implementations perform at most one attempt per call and surface a
// classified result; all retry policy stays in the engine.
type TargetAdapter interface {
	// Push sends a local change to the remote system.
	Push(ctx context.Context, job *queue.Job) Result
	// Pull applies a remote change to the local system.
	Pull(ctx context.Context, job *queue.Job) Result
}

// BatchPusher is an optional capability: creating several records in
// one remote call.
type BatchPusher interface {
	// PushBatch creates all jobs remotely, returning one result per job
	// in order.
	PushBatch(ctx context.Context, jobs []*queue.Job) []Result
}

// Resolver returns the active adapter for a module, or nil when the
// integration is disabled or removed. It is injected into the engine,
// never looked up through global state.
type Resolver interface {
	Resolve(module string) TargetAdapter
	// Modules lists the currently active module names.
	Modules() []string
}

// Registry is a simple map-backed Resolver.
type Registry struct {
	adapters map[string]TargetAdapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters map[string]TargetAdapter) *Registry {
	if adapters == nil {
		adapters = make(map[string]TargetAdapter)
	}
	return &Registry{adapters: adapters}
}

// Register adds or replaces an adapter for a module.
func (r *Registry) Register(module string, a TargetAdapter) {
	r.adapters[module] = a
}

// Resolve returns the adapter for a module, or nil.
func (r *Registry) Resolve(module string) TargetAdapter {
	return r.adapters[module]
}

// Modules lists registered module names.
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
