package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenCacheExpiryMargin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cache := NewTokenCache()
	cache.now = func() time.Time { return now }

	// Expires comfortably outside the margin.
	cache.Put("acct-1", "token-a", now.Add(10*time.Minute))

	token, ok := cache.Get("acct-1")
	assert.True(t, ok)
	assert.Equal(t, "token-a", token)

	// Expires inside the safety margin and must not be served.
	cache.Put("acct-2", "token-b", now.Add(30*time.Second))

	_, ok = cache.Get("acct-2")
	assert.False(t, ok)
}

func TestTokenCacheInvalidate(t *testing.T) {
	cache := NewTokenCache()
	cache.Put("acct", "token", time.Now().Add(time.Hour))

	cache.Invalidate("acct")

	_, ok := cache.Get("acct")
	assert.False(t, ok)
}

func TestTokenCacheRefreshLockSerializes(t *testing.T) {
	cache := NewTokenCache()

	unlock := cache.RefreshLock("acct")

	acquired := make(chan struct{})
	go func() {
		second := cache.RefreshLock("acct")
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second refresh acquired the lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second refresh never acquired the lock")
	}
}
