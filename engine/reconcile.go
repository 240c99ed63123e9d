package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/queue"
)

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Stale   int `json:"stale"`
	Removed int `json:"removed"`
}

// Reconcile verifies the identity map for one module and entity type
// against the remote system. A mapping whose remote record is
// confirmed gone (a permanent not-found from the adapter) is stale;
// with fix it is removed from the map.
func (e *Engine) Reconcile(ctx context.Context, module, entityType string, fix bool) (*ReconcileReport, error) {
	target := e.resolver.Resolve(module)
	if target == nil {
		return nil, fmt.Errorf("module %q is not active", module)
	}

	entries, err := e.ids.List(ctx, module, entityType)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for _, entry := range entries {
		report.Checked++

		probe := &queue.Job{
			Module:     module,
			Direction:  queue.DirectionInbound,
			EntityType: entityType,
			LocalID:    entry.LocalID,
			RemoteID:   entry.RemoteID,
			Action:     queue.ActionUpdate,
			CreatedAt:  time.Now(),
		}
		result := safeCall(ctx, target, probe)
		if result.Success || result.Kind != adapter.KindPermanent {
			// Transient trouble is not evidence the record is gone.
			continue
		}

		report.Stale++
		e.log.WithCtx(ctx).WithFields(map[string]any{
			"module": module, "entity_type": entityType,
			"local_id": entry.LocalID, "remote_id": entry.RemoteID,
		}).Warn("identity mapping points at missing remote record")

		if fix {
			if err := e.ids.Remove(ctx, entry); err != nil {
				return report, fmt.Errorf("failed to remove stale mapping: %w", err)
			}
			report.Removed++
		}
	}
	return report, nil
}
