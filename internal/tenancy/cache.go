package tenancy

import (
	"sync"
	"time"
)

// credentialCache is the process-local, TTL-bounded cache fronting
// GetSealedCredentials (spec §4.C). It is invalidated synchronously by
// every mutation and disconnect path, never on a timer alone.
type credentialCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	entries map[string]cacheEntry
}

type cacheEntry struct {
	creds     *SealedCredentials
	expiresAt time.Time
}

func newCredentialCache(ttl time.Duration) *credentialCache {
	return &credentialCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *credentialCache) get(tenantID string) (*SealedCredentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[tenantID]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.creds, true
}

func (c *credentialCache) put(tenantID string, creds *SealedCredentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = cacheEntry{creds: creds, expiresAt: c.now().Add(c.ttl)}
}

func (c *credentialCache) invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}
