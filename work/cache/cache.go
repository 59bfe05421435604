// Package cache implements the in-memory resolution cache: resolved
// streams keyed by an opaque token, with a reverse index letting several
// content identities (catalog id, catalog id+site, raw URL) share one
// entry. Expiration is sliding and detected lazily; there is no background
// sweep goroutine.
package cache

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"dizi-proxy/work/logger"
	"dizi-proxy/work/types"
)

// ContentKey is an alternate identity for a cached resolution. Keys are
// namespaced strings so the three identity shapes can never collide.
type ContentKey string

// CatalogKey identifies a resolution by catalog id alone.
func CatalogKey(id string) ContentKey {
	return ContentKey("id:" + id)
}

// CatalogSiteKey identifies a resolution by catalog id on one site.
func CatalogSiteKey(id, site string) ContentKey {
	return ContentKey("id:" + id + "|site:" + site)
}

// URLKey identifies a resolution by the raw page URL it came from.
func URLKey(raw string) ContentKey {
	return ContentKey("url:" + raw)
}

// Entry is one cached resolution. ExpiresAt is an absolute deadline that
// slides forward on every successful lookup or touch.
type Entry struct {
	Token     string
	Result    *types.ResolutionResult
	ExpiresAt time.Time
}

// ResolutionCache maps tokens to entries and content keys to tokens. The
// two indexes are only ever mutated together under one mutex; a removal
// that updated one side but not the other would strand aliases pointing at
// dead tokens, so every purge path goes through removeLocked.
type ResolutionCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]*Entry                   // token -> entry
	keyToken  map[ContentKey]string               // content key -> live token
	tokenKeys map[string]map[ContentKey]struct{}  // token -> content keys registered for it
	now       func() time.Time
}

// New creates a ResolutionCache with the given sliding TTL.
func New(ttl time.Duration) *ResolutionCache {
	return &ResolutionCache{
		ttl:       ttl,
		entries:   make(map[string]*Entry),
		keyToken:  make(map[ContentKey]string),
		tokenKeys: make(map[string]map[ContentKey]struct{}),
		now:       time.Now,
	}
}

// SetNowFunc overrides the cache's clock. Tests use it to step time past
// the TTL without sleeping.
func (c *ResolutionCache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Lookup resolves a content key to its cached entry. An expired entry is
// purged (together with all its aliases) and reported as a miss; a live
// one has its expiry extended before being returned.
func (c *ResolutionCache) Lookup(key ContentKey) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, ok := c.keyToken[key]
	if !ok {
		return nil, false
	}
	entry, ok := c.entries[token]
	if !ok {
		// An index half with no entry means a removal was interrupted;
		// finish it now.
		c.removeLocked(token)
		return nil, false
	}
	if !entry.ExpiresAt.After(c.now()) {
		logger.Debug("{cache - Lookup} Purging expired token %s for key %s", token, key)
		c.removeLocked(token)
		return nil, false
	}
	entry.ExpiresAt = c.now().Add(c.ttl)
	return entry, true
}

// Get resolves a token directly, with the same purge-then-miss and
// sliding-expiry behavior as Lookup. A token is just one more alias of
// the entry.
func (c *ResolutionCache) Get(token string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[token]
	if !ok {
		return nil, false
	}
	if !entry.ExpiresAt.After(c.now()) {
		logger.Debug("{cache - Get} Purging expired token %s", token)
		c.removeLocked(token)
		return nil, false
	}
	entry.ExpiresAt = c.now().Add(c.ttl)
	return entry, true
}

// Store inserts a freshly resolved result under a new random token and
// registers every supplied content key against it. A key already mapped to
// another live token is re-pointed here; the invariant is one live token
// per content identity, and the newest resolution wins.
func (c *ResolutionCache) Store(result *types.ResolutionResult, keys []ContentKey) (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := newToken()
	entry := &Entry{
		Token:     token,
		Result:    result,
		ExpiresAt: c.now().Add(c.ttl),
	}
	c.entries[token] = entry
	c.tokenKeys[token] = make(map[ContentKey]struct{}, len(keys))
	for _, key := range keys {
		if prev, ok := c.keyToken[key]; ok && prev != token {
			delete(c.tokenKeys[prev], key)
		}
		c.keyToken[key] = token
		c.tokenKeys[token][key] = struct{}{}
	}

	logger.Debug("{cache - Store} Stored token %s for site %s under %d keys", token, result.Site, len(keys))
	return token, entry.ExpiresAt
}

// Touch resets the expiry for a token. Every content key mapped to the
// token shares the entry, so extending it refreshes all aliases at once.
// Touching an unknown token is a no-op.
func (c *ResolutionCache) Touch(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[token]; ok {
		entry.ExpiresAt = c.now().Add(c.ttl)
	}
}

// Sweep removes every expired entry and all of its content keys. It is
// called opportunistically at the start of cache-sensitive operations
// rather than from a timer.
func (c *ResolutionCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for token, entry := range c.entries {
		if !entry.ExpiresAt.After(now) {
			c.removeLocked(token)
			removed++
		}
	}
	if removed > 0 {
		logger.Debug("{cache - Sweep} Removed %d expired entries, %d remain", removed, len(c.entries))
	}
}

// Size returns the number of live tokens. Expired-but-unswept entries
// still count; they disappear on the next sweep or lookup.
func (c *ResolutionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked deletes a token from both indexes. Callers hold c.mu.
func (c *ResolutionCache) removeLocked(token string) {
	for key := range c.tokenKeys[token] {
		if c.keyToken[key] == token {
			delete(c.keyToken, key)
		}
	}
	delete(c.tokenKeys, token)
	delete(c.entries, token)
}

// newToken generates an opaque 32-hex-character token.
func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// nothing sensible to do but surface it loudly.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
