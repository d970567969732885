package provider

import (
	"sync"
	"time"
)

// expiryMargin is subtracted from a token's real expiry so a token is
// never used in the last moments of its life.
const expiryMargin = 60 * time.Second

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenCache holds in-memory access tokens keyed by account id.
// Last-writer-wins replace; per-key locking only exists to avoid
// redundant concurrent refreshes.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
	inUse   map[string]*sync.Mutex
	now     func() time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{
		entries: make(map[string]cachedToken),
		inUse:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Get returns a cached access token still inside its safety margin.
func (c *TokenCache) Get(accountID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[accountID]
	if !ok || c.now().Add(expiryMargin).After(entry.expiresAt) {
		return "", false
	}

	return entry.token, true
}

// Put stores an access token with its real expiry.
func (c *TokenCache) Put(accountID, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[accountID] = cachedToken{token: token, expiresAt: expiresAt}
}

// Invalidate drops the cached token for an account.
func (c *TokenCache) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, accountID)
}

// RefreshLock serializes refreshes for one account so concurrent requests
// do not all hit the token endpoint. Liveness optimization, not needed
// for correctness.
func (c *TokenCache) RefreshLock(accountID string) func() {
	c.mu.Lock()
	lock, ok := c.inUse[accountID]
	if !ok {
		lock = &sync.Mutex{}
		c.inUse[accountID] = lock
	}
	c.mu.Unlock()

	lock.Lock()

	return lock.Unlock
}
