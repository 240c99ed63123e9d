package identity

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// biCache is a two-sided LRU over identity entries: one side keyed by
// local id, one by remote id. Evicting one side's entry also drops its
// reverse counterpart so no orphaned half-mapping survives.
type biCache struct {
	byLocal  *lru.Cache[string, *Entry]
	byRemote *lru.Cache[string, *Entry]
}

func localKey(module, entityType string, localID int64) string {
	return fmt.Sprintf("%s|%s|l|%d", module, entityType, localID)
}

func remoteKey(module, entityType string, remoteID int64) string {
	return fmt.Sprintf("%s|%s|r|%d", module, entityType, remoteID)
}

func newBiCache(size int) *biCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c := &biCache{}
	// Evicting a key from an lru never re-fires for a key that is
	// already absent, so the cross-removal below terminates.
	c.byLocal, _ = lru.NewWithEvict[string, *Entry](size, func(_ string, e *Entry) {
		c.byRemote.Remove(remoteKey(e.Module, e.EntityType, e.RemoteID))
	})
	c.byRemote, _ = lru.NewWithEvict[string, *Entry](size, func(_ string, e *Entry) {
		c.byLocal.Remove(localKey(e.Module, e.EntityType, e.LocalID))
	})
	return c
}

func (c *biCache) getByLocal(module, entityType string, localID int64) (*Entry, bool) {
	return c.byLocal.Get(localKey(module, entityType, localID))
}

func (c *biCache) getByRemote(module, entityType string, remoteID int64) (*Entry, bool) {
	return c.byRemote.Get(remoteKey(module, entityType, remoteID))
}

func (c *biCache) put(e *Entry) {
	c.byLocal.Add(localKey(e.Module, e.EntityType, e.LocalID), e)
	c.byRemote.Add(remoteKey(e.Module, e.EntityType, e.RemoteID), e)
}

func (c *biCache) remove(e *Entry) {
	c.byLocal.Remove(localKey(e.Module, e.EntityType, e.LocalID))
	c.byRemote.Remove(remoteKey(e.Module, e.EntityType, e.RemoteID))
}

func (c *biCache) purge() {
	c.byLocal.Purge()
	c.byRemote.Purge()
}
