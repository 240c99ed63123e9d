// Package identity keeps the durable correspondence between local and
// remote record identities. It is what makes retries idempotent: before
// creating a remote record the engine asks the map whether one already
// exists, and after a successful sync the mapping plus a payload digest
// is written back.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/syncbridge/syncbridge/data"
)

// batchChunkSize bounds the id list of one IN query.
const batchChunkSize = 500

// Entry is one local/remote identity pair.
type Entry struct {
	Module       string    `json:"module"`
	EntityType   string    `json:"entity_type"`
	LocalID      int64     `json:"local_id"`
	RemoteID     int64     `json:"remote_id"`
	RemoteModel  string    `json:"remote_model,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Store is the durable identity map fronted by an in-process LRU cache.
type Store struct {
	db     *sql.DB
	driver string
	cache  *biCache
}

// NewStore creates an identity store. cacheSize bounds the in-memory
// cache per direction; zero or negative uses a default.
func NewStore(d *data.Data, cacheSize int) *Store {
	return &Store{
		db:     d.DB,
		driver: d.Driver(),
		cache:  newBiCache(cacheSize),
	}
}

func (s *Store) rebind(q string) string {
	return data.Rebind(s.driver, q)
}

// ResolveRemote returns the remote id mapped to a local id, or 0 when
// no mapping exists.
func (s *Store) ResolveRemote(ctx context.Context, module, entityType string, localID int64) (int64, error) {
	if e, ok := s.cache.getByLocal(module, entityType, localID); ok {
		return e.RemoteID, nil
	}
	q := s.rebind(`SELECT module, entity_type, local_id, remote_id, remote_model, content_hash, last_synced_at
		FROM sync_identity WHERE module = ? AND entity_type = ? AND local_id = ? LIMIT 1`)
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, module, entityType, localID))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve remote id: %w", err)
	}
	s.cache.put(e)
	return e.RemoteID, nil
}

// ResolveLocal returns the local id mapped to a remote id, or 0 when no
// mapping exists.
func (s *Store) ResolveLocal(ctx context.Context, module, entityType string, remoteID int64) (int64, error) {
	if e, ok := s.cache.getByRemote(module, entityType, remoteID); ok {
		return e.LocalID, nil
	}
	q := s.rebind(`SELECT module, entity_type, local_id, remote_id, remote_model, content_hash, last_synced_at
		FROM sync_identity WHERE module = ? AND entity_type = ? AND remote_id = ? LIMIT 1`)
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, module, entityType, remoteID))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve local id: %w", err)
	}
	s.cache.put(e)
	return e.LocalID, nil
}

// Lookup returns the full entry for a local id, or nil when unmapped.
func (s *Store) Lookup(ctx context.Context, module, entityType string, localID int64) (*Entry, error) {
	if e, ok := s.cache.getByLocal(module, entityType, localID); ok {
		return e, nil
	}
	q := s.rebind(`SELECT module, entity_type, local_id, remote_id, remote_model, content_hash, last_synced_at
		FROM sync_identity WHERE module = ? AND entity_type = ? AND local_id = ? LIMIT 1`)
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, module, entityType, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	s.cache.put(e)
	return e, nil
}

// ResolveRemoteBatch maps many local ids to remote ids in chunked
// queries, avoiding N+1 lookups during bulk operations. Absent ids are
// simply missing from the result map.
func (s *Store) ResolveRemoteBatch(ctx context.Context, module, entityType string, localIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(localIDs))
	missing := make([]int64, 0, len(localIDs))
	for _, id := range localIDs {
		if e, ok := s.cache.getByLocal(module, entityType, id); ok {
			result[id] = e.RemoteID
			continue
		}
		missing = append(missing, id)
	}

	for start := 0; start < len(missing); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]
		entries, err := s.queryBatch(ctx, module, entityType, "local_id", chunk)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			result[e.LocalID] = e.RemoteID
			s.cache.put(e)
		}
	}
	return result, nil
}

// ResolveLocalBatch is the inbound counterpart of ResolveRemoteBatch.
func (s *Store) ResolveLocalBatch(ctx context.Context, module, entityType string, remoteIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(remoteIDs))
	missing := make([]int64, 0, len(remoteIDs))
	for _, id := range remoteIDs {
		if e, ok := s.cache.getByRemote(module, entityType, id); ok {
			result[id] = e.LocalID
			continue
		}
		missing = append(missing, id)
	}

	for start := 0; start < len(missing); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]
		entries, err := s.queryBatch(ctx, module, entityType, "remote_id", chunk)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			result[e.RemoteID] = e.LocalID
			s.cache.put(e)
		}
	}
	return result, nil
}

func (s *Store) queryBatch(ctx context.Context, module, entityType, idColumn string, ids []int64) ([]*Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := []any{module, entityType}
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	q := s.rebind(`SELECT module, entity_type, local_id, remote_id, remote_model, content_hash, last_synced_at
		FROM sync_identity WHERE module = ? AND entity_type = ? AND ` + idColumn + ` IN (` + placeholders + `)`)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed batch identity lookup: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns all entries for one module and entity type, for
// reconciliation sweeps.
func (s *Store) List(ctx context.Context, module, entityType string) ([]*Entry, error) {
	q := s.rebind(`SELECT module, entity_type, local_id, remote_id, remote_model, content_hash, last_synced_at
		FROM sync_identity WHERE module = ? AND entity_type = ? ORDER BY local_id`)
	rows, err := s.db.QueryContext(ctx, q, module, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Save upserts an entry atomically. The upsert keeps the row's
// surrogate identity stable instead of delete-then-insert churn.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if e.LastSyncedAt.IsZero() {
		e.LastSyncedAt = time.Now()
	}
	var q string
	switch s.driver {
	case "mysql":
		q = `INSERT INTO sync_identity (module, entity_type, local_id, remote_id, remote_model, content_hash, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE remote_model = VALUES(remote_model), content_hash = VALUES(content_hash), last_synced_at = VALUES(last_synced_at)`
	default:
		q = `INSERT INTO sync_identity (module, entity_type, local_id, remote_id, remote_model, content_hash, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (module, entity_type, local_id, remote_id)
			DO UPDATE SET remote_model = excluded.remote_model, content_hash = excluded.content_hash, last_synced_at = excluded.last_synced_at`
	}
	q = s.rebind(q)
	_, err := s.db.ExecContext(ctx, q, e.Module, e.EntityType, e.LocalID, e.RemoteID,
		e.RemoteModel, e.ContentHash, e.LastSyncedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save identity entry: %w", err)
	}
	s.cache.put(e)
	return nil
}

// Remove deletes a mapping, typically after the remote record is
// confirmed gone.
func (s *Store) Remove(ctx context.Context, e *Entry) error {
	q := s.rebind(`DELETE FROM sync_identity WHERE module = ? AND entity_type = ? AND local_id = ? AND remote_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, e.Module, e.EntityType, e.LocalID, e.RemoteID); err != nil {
		return fmt.Errorf("failed to remove identity entry: %w", err)
	}
	s.cache.remove(e)
	return nil
}

// InvalidateCache drops the whole in-process cache.
func (s *Store) InvalidateCache() {
	s.cache.purge()
}

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry
	var lastSynced int64
	if err := row.Scan(&e.Module, &e.EntityType, &e.LocalID, &e.RemoteID, &e.RemoteModel, &e.ContentHash, &lastSynced); err != nil {
		return nil, err
	}
	if lastSynced > 0 {
		e.LastSyncedAt = time.UnixMilli(lastSynced)
	}
	return &e, nil
}
