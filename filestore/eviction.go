package filestore

import (
	"container/list"
	"sort"
	"sync"
)

// scheduleEviction runs evictIfNeeded coalesced: concurrent callers (a
// burst of Put/download completions) collapse onto one evaluation pass,
// matching every other single-flight boundary in this package.
func (fs *FileStore) scheduleEviction() {
	_, _, _ = fs.evictFlight.Do("evict", func() (any, error) {
		fs.evictIfNeeded()
		return nil, nil
	})
}

// evictIfNeeded drops the oldest-accessed entries once total cached bytes
// exceeds MaxCacheBytes, pinning any entry with a pending upload (it must
// survive until it has actually left this device).
func (fs *FileStore) evictIfNeeded() {
	if fs.cfg.MaxCacheBytes <= 0 {
		return
	}

	all, err := fs.cfg.Meta.All()
	if err != nil {
		return
	}

	var total int64
	evictable := all[:0:0]
	for _, m := range all {
		total += m.Size
		if m.UploadStatus == StatusNone {
			evictable = append(evictable, m)
		}
	}
	if total <= fs.cfg.MaxCacheBytes {
		return
	}

	sort.Slice(evictable, func(i, j int) bool {
		return evictable[i].LastAccess.Before(evictable[j].LastAccess)
	})

	for _, m := range evictable {
		if total <= fs.cfg.MaxCacheBytes {
			break
		}
		if err := fs.cfg.Blobs.Delete(m.SpaceID, m.FileID); err != nil {
			continue
		}
		_ = fs.cfg.Meta.Delete(m.SpaceID, m.FileID)
		fs.urls.revoke(m.SpaceID, m.FileID)
		total -= m.Size
	}
}

// urlCache is a fixed-capacity LRU of object-url-equivalent handles,
// keyed by (space, fileID). It exists so a caller that needs a stable
// handle to hand to a UI layer doesn't regenerate one on every access;
// eviction here revokes the handle the same way evictIfNeeded revokes
// the underlying blob.
type urlCache struct {
	mu       sync.Mutex
	cap      int
	order    *list.List
	elements map[string]*list.Element
	revokeFn func(handle string)
}

type urlEntry struct {
	key    string
	handle string
}

func newURLCache(capacity int) *urlCache {
	return &urlCache{
		cap:      capacity,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// OnRevoke registers a callback invoked with a handle being evicted from
// the cache (e.g. to release a browser-side object URL equivalent).
func (fs *FileStore) OnRevoke(fn func(handle string)) {
	fs.urls.revokeFn = fn
}

// URLFor returns a cached handle for (spaceID, fileID), allocating one
// with newHandle on first use. Handles are LRU-capped at 50 and revoked
// (via the OnRevoke callback, if set) on eviction.
func (fs *FileStore) URLFor(spaceID, fileID string, newHandle func() string) string {
	return fs.urls.getOrCreate(spaceID, fileID, newHandle)
}

// getOrCreate returns a cached handle for (spaceID, fileID), creating one via
// newHandle if absent, and marks it most-recently-used.
func (c *urlCache) getOrCreate(spaceID, fileID string, newHandle func() string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := metaKey(spaceID, fileID)
	if el, ok := c.elements[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*urlEntry).handle
	}

	handle := newHandle()
	el := c.order.PushFront(&urlEntry{key: key, handle: handle})
	c.elements[key] = el

	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		if oldest != nil {
			c.evictElement(oldest)
		}
	}
	return handle
}

func (c *urlCache) revoke(spaceID, fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := metaKey(spaceID, fileID)
	if el, ok := c.elements[key]; ok {
		c.evictElement(el)
	}
}

func (c *urlCache) evictElement(el *list.Element) {
	entry := el.Value.(*urlEntry)
	c.order.Remove(el)
	delete(c.elements, entry.key)
	if c.revokeFn != nil {
		c.revokeFn(entry.handle)
	}
}
