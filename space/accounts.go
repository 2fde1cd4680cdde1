package space

import (
	"context"
	"strings"
	"sync"
	"time"
)

// accountsCacheTTL is how long a resolved handle stays cached before a
// fresh lookup is required.
const accountsCacheTTL = 5 * time.Minute

type cachedEntry struct {
	info   *RecipientInfo
	expiry time.Time
}

// cachedAccounts wraps an AccountsService with a TTL cache keyed by
// normalized handle (or DID for LookupDID), so repeated invites to the
// same handle, or repeated replays against the same membership log,
// within a short window don't re-hit the accounts service.
type cachedAccounts struct {
	backend AccountsService

	mu      sync.Mutex
	cache   map[string]cachedEntry
	didMu   sync.Mutex
	didCache map[string]cachedEntry
}

func newCachedAccounts(backend AccountsService) *cachedAccounts {
	return &cachedAccounts{
		backend:  backend,
		cache:    make(map[string]cachedEntry),
		didCache: make(map[string]cachedEntry),
	}
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// domainMatches checks the resolved DID's domain component (if present)
// against the handle's own domain suffix, rejecting cross-domain spoofing
// where a cache or backend returns a recipient for the wrong realm.
func domainMatches(handle string, did string) bool {
	at := strings.LastIndex(handle, "@")
	if at < 0 {
		return true // handles without a domain component skip the check
	}
	domain := handle[at+1:]
	return strings.Contains(did, domain)
}

func (c *cachedAccounts) Lookup(ctx context.Context, handle string) (*RecipientInfo, error) {
	key := normalizeHandle(handle)

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && time.Now().Before(e.expiry) {
		c.mu.Unlock()
		return e.info, nil
	}
	c.mu.Unlock()

	info, err := c.backend.Lookup(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !domainMatches(handle, info.DID) {
		return nil, errDomainMismatch
	}

	c.mu.Lock()
	c.cache[key] = cachedEntry{info: info, expiry: time.Now().Add(accountsCacheTTL)}
	c.mu.Unlock()
	return info, nil
}

// LookupDID resolves did to its directory entry, TTL-cached the same way
// Lookup is. Used to bind a DID claimed inside a membership-log entry to
// the real signing key it should have used.
func (c *cachedAccounts) LookupDID(ctx context.Context, did string) (*RecipientInfo, error) {
	c.didMu.Lock()
	if e, ok := c.didCache[did]; ok && time.Now().Before(e.expiry) {
		c.didMu.Unlock()
		return e.info, nil
	}
	c.didMu.Unlock()

	info, err := c.backend.LookupDID(ctx, did)
	if err != nil {
		return nil, err
	}

	c.didMu.Lock()
	c.didCache[did] = cachedEntry{info: info, expiry: time.Now().Add(accountsCacheTTL)}
	c.didMu.Unlock()
	return info, nil
}
