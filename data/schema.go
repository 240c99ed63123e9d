package data

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Schema statements per dialect. Timestamps are stored as unix
// milliseconds so ordering and arithmetic behave identically across
// drivers.
var jobsTable = map[string]string{
	"sqlite3": `CREATE TABLE IF NOT EXISTS sync_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		module TEXT NOT NULL,
		direction TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		local_id INTEGER NOT NULL DEFAULT 0,
		remote_id INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		payload BLOB,
		priority INTEGER NOT NULL DEFAULT 10,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT NOT NULL DEFAULT '',
		scheduled_at INTEGER NOT NULL,
		processed_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT ''
	)`,
	"pgx": `CREATE TABLE IF NOT EXISTS sync_jobs (
		id BIGSERIAL PRIMARY KEY,
		module TEXT NOT NULL,
		direction TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		local_id BIGINT NOT NULL DEFAULT 0,
		remote_id BIGINT NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		payload BYTEA,
		priority INTEGER NOT NULL DEFAULT 10,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT NOT NULL DEFAULT '',
		scheduled_at BIGINT NOT NULL,
		processed_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT ''
	)`,
	"mysql": `CREATE TABLE IF NOT EXISTS sync_jobs (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		module VARCHAR(191) NOT NULL,
		direction VARCHAR(16) NOT NULL,
		entity_type VARCHAR(191) NOT NULL,
		local_id BIGINT NOT NULL DEFAULT 0,
		remote_id BIGINT NOT NULL DEFAULT 0,
		action VARCHAR(16) NOT NULL,
		payload MEDIUMBLOB,
		priority INT NOT NULL DEFAULT 10,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		max_attempts INT NOT NULL DEFAULT 3,
		last_error TEXT,
		scheduled_at BIGINT NOT NULL,
		processed_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		correlation_id VARCHAR(64) NOT NULL DEFAULT '',
		active_key VARCHAR(512) GENERATED ALWAYS AS (
			IF(status IN ('pending','processing') AND (local_id <> 0 OR remote_id <> 0),
				CONCAT_WS('|', module, entity_type, direction, local_id, remote_id), NULL)
		) STORED,
		UNIQUE KEY uq_sync_jobs_active_dedup (active_key)
	)`,
}

// The dedup invariant (at most one job in {pending, processing} per
// tuple) is enforced by the store itself, not only by the enqueue-time
// lookup: under READ COMMITTED two concurrent first-time enqueues both
// see zero rows, so without a constraint both would insert. SQLite and
// postgres use a partial unique index; MySQL has no partial indexes, so
// its table carries a generated active_key column with a unique key
// (NULL for terminal or non-dedupable rows, which never conflict).
var activeDedupIndex = map[string]string{
	"sqlite3": `CREATE UNIQUE INDEX IF NOT EXISTS uq_sync_jobs_active_dedup ON sync_jobs
		(module, entity_type, direction, local_id, remote_id)
		WHERE status IN ('pending','processing') AND (local_id <> 0 OR remote_id <> 0)`,
	"pgx": `CREATE UNIQUE INDEX IF NOT EXISTS uq_sync_jobs_active_dedup ON sync_jobs
		(module, entity_type, direction, local_id, remote_id)
		WHERE status IN ('pending','processing') AND (local_id <> 0 OR remote_id <> 0)`,
}

var sharedSchema = []string{
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_claim ON sync_jobs (status, scheduled_at, priority)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_dedup ON sync_jobs (module, entity_type, direction, local_id, remote_id, status)`,
	`CREATE TABLE IF NOT EXISTS sync_identity (
		module VARCHAR(191) NOT NULL,
		entity_type VARCHAR(191) NOT NULL,
		local_id BIGINT NOT NULL,
		remote_id BIGINT NOT NULL,
		remote_model TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		last_synced_at BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (module, entity_type, local_id, remote_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_identity_local ON sync_identity (module, entity_type, local_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_identity_remote ON sync_identity (module, entity_type, remote_id)`,
	`CREATE TABLE IF NOT EXISTS sync_breaker (
		scope VARCHAR(191) PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'closed',
		failed_batches INTEGER NOT NULL DEFAULT 0,
		opened_at BIGINT NOT NULL DEFAULT 0,
		probe_started_at BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS sync_locks (
		name VARCHAR(191) PRIMARY KEY,
		owner VARCHAR(64) NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_failures (
		scope VARCHAR(191) PRIMARY KEY,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_notified_at BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0
	)`,
}

// Migrate creates the syncbridge tables when they do not exist.
func (d *Data) Migrate(ctx context.Context) error {
	jobs, ok := jobsTable[d.Driver()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", d.Driver())
	}
	stmts := append([]string{jobs}, sharedSchema...)
	if idx, ok := activeDedupIndex[d.Driver()]; ok {
		stmts = append(stmts, idx)
	}
	for _, stmt := range stmts {
		if d.Driver() == "mysql" {
			// MySQL has no CREATE INDEX IF NOT EXISTS; index errors on
			// re-migration are harmless duplicates.
			if strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") {
				stmt = strings.Replace(stmt, "CREATE INDEX IF NOT EXISTS", "CREATE INDEX", 1)
				if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
					continue
				}
				continue
			}
		}
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Rebind converts ?-style placeholders to the dialect of the given
// driver. Only postgres needs rewriting.
func Rebind(driver, query string) string {
	if driver != "pgx" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
