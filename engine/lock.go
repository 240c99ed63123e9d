package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/syncbridge/syncbridge/data"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
)

// Locker grants a non-blocking, expiring run lock. A busy worker skips
// its tick instead of queuing behind another; acquisition never waits.
type Locker interface {
	// TryAcquire returns a release func and true when the lock was
	// taken, or false immediately when another holder has it.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error)
}

// NewLocker picks the redis locker when a client is available,
// otherwise the SQL locker on the shared sync_locks table.
func NewLocker(d *data.Data) Locker {
	if d.RC != nil {
		return &RedisLocker{rc: d.RC}
	}
	return &SQLLocker{db: d.DB, driver: d.Driver()}
}

// RedisLocker implements Locker with SET NX PX and an owner token so
// only the holder can release.
type RedisLocker struct {
	rc *redis.Client
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := "syncbridge:lock:" + name
	owner := gonanoid.Must(16)

	ok, err := l.rc.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_, _ = unlockScript.Run(context.Background(), l.rc, []string{key}, owner).Result()
	}
	return release, true, nil
}

// SQLLocker implements Locker with conditional writes on sync_locks.
type SQLLocker struct {
	db     *sql.DB
	driver string
}

func (l *SQLLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	owner := gonanoid.Must(16)
	now := time.Now()
	expires := now.Add(ttl).UnixMilli()

	// Take over an expired lock first; insert when no row exists.
	upd := data.Rebind(l.driver, `UPDATE sync_locks SET owner = ?, expires_at = ? WHERE name = ? AND expires_at <= ?`)
	res, err := l.db.ExecContext(ctx, upd, owner, expires, name, now.UnixMilli())
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ins := data.Rebind(l.driver, `INSERT INTO sync_locks (name, owner, expires_at) VALUES (?, ?, ?)`)
		if _, err := l.db.ExecContext(ctx, ins, name, owner, expires); err != nil {
			// Conflict: a live holder exists.
			return nil, false, nil
		}
	}

	release := func() {
		del := data.Rebind(l.driver, `DELETE FROM sync_locks WHERE name = ? AND owner = ?`)
		_, _ = l.db.ExecContext(context.Background(), del, name, owner)
	}
	return release, true, nil
}
