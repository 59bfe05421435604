package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dizi-proxy/work/types"
)

func testResult() *types.ResolutionResult {
	return &types.ResolutionResult{
		Site:      "hdfilm",
		PageURL:   "https://www.hdfilmcehennemi.la/film-1",
		MasterURL: "https://cdn.example.com/master.m3u8",
		BestIndex: -1,
	}
}

// steppableClock lets tests slide time forward without sleeping.
type steppableClock struct {
	now time.Time
}

func (s *steppableClock) Now() time.Time { return s.now }

func (s *steppableClock) Advance(d time.Duration) { s.now = s.now.Add(d) }

func newTestCache(ttl time.Duration) (*ResolutionCache, *steppableClock) {
	clock := &steppableClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New(ttl)
	c.SetNowFunc(clock.Now)
	return c, clock
}

func TestStoreAndLookupRoundTrip(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)

	key := URLKey("https://www.hdfilmcehennemi.la/film-1")
	token, firstExpiry := c.Store(testResult(), []ContentKey{key})
	require.NotEmpty(t, token)

	clock.Advance(1 * time.Minute)
	entry, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, token, entry.Token)
	assert.Equal(t, "hdfilm", entry.Result.Site)

	// Sliding expiration: the second observation never shrinks the window.
	assert.False(t, entry.ExpiresAt.Before(firstExpiry))
}

func TestLookupByAnyAlias(t *testing.T) {
	c, _ := newTestCache(5 * time.Minute)

	keys := []ContentKey{
		CatalogKey("tt1234"),
		CatalogSiteKey("tt1234", "hdfilm"),
		URLKey("https://www.hdfilmcehennemi.la/film-1"),
	}
	token, _ := c.Store(testResult(), keys)

	for _, key := range keys {
		entry, ok := c.Lookup(key)
		require.True(t, ok, "alias %s should hit", key)
		assert.Equal(t, token, entry.Token)
	}
}

func TestTouchNeverDecreasesExpiry(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)

	token, _ := c.Store(testResult(), []ContentKey{CatalogKey("tt1")})

	clock.Advance(2 * time.Minute)
	c.Touch(token)
	first, ok := c.Get(token)
	require.True(t, ok)
	deadline := first.ExpiresAt

	for i := 0; i < 3; i++ {
		c.Touch(token)
		entry, ok := c.Get(token)
		require.True(t, ok)
		assert.False(t, entry.ExpiresAt.Before(deadline))
		deadline = entry.ExpiresAt
	}
}

func TestTouchRefreshesAllAliases(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)

	key1 := CatalogKey("tt9")
	key2 := URLKey("https://dizipub.club/ep-9")
	token, _ := c.Store(testResult(), []ContentKey{key1, key2})

	// Keep only one alias warm; the other must stay alive with it.
	for i := 0; i < 3; i++ {
		clock.Advance(4 * time.Minute)
		_, ok := c.Lookup(key1)
		require.True(t, ok)
	}

	entry, ok := c.Lookup(key2)
	require.True(t, ok)
	assert.Equal(t, token, entry.Token)
}

func TestExpiryPurgesBothIndexes(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)

	key1 := CatalogKey("tt42")
	key2 := CatalogSiteKey("tt42", "dizibox")
	token, _ := c.Store(testResult(), []ContentKey{key1, key2})

	clock.Advance(6 * time.Minute)

	// Any alias of the expired token misses.
	_, ok := c.Lookup(key1)
	assert.False(t, ok)
	_, ok = c.Lookup(key2)
	assert.False(t, ok)
	_, ok = c.Get(token)
	assert.False(t, ok)

	// Nothing of the entry survives in either index.
	c.mu.Lock()
	_, entryLeft := c.entries[token]
	_, keysLeft := c.tokenKeys[token]
	_, key1Left := c.keyToken[key1]
	_, key2Left := c.keyToken[key2]
	c.mu.Unlock()
	assert.False(t, entryLeft)
	assert.False(t, keysLeft)
	assert.False(t, key1Left)
	assert.False(t, key2Left)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)

	oldToken, _ := c.Store(testResult(), []ContentKey{CatalogKey("old")})
	clock.Advance(4 * time.Minute)
	freshToken, _ := c.Store(testResult(), []ContentKey{CatalogKey("fresh")})
	clock.Advance(2 * time.Minute)

	c.Sweep()

	_, ok := c.Get(oldToken)
	assert.False(t, ok)
	_, ok = c.Get(freshToken)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Size())
}

func TestStoreRepointsExistingKey(t *testing.T) {
	c, _ := newTestCache(5 * time.Minute)

	key := URLKey("https://dizipal1503.com/ep-1")
	first, _ := c.Store(testResult(), []ContentKey{key})
	second, _ := c.Store(testResult(), []ContentKey{key})
	require.NotEqual(t, first, second)

	entry, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, second, entry.Token)

	// The first token no longer owns the key but remains fetchable until
	// it expires.
	entry, ok = c.Get(first)
	require.True(t, ok)
	assert.Equal(t, first, entry.Token)
}
