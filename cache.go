package iam

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ============================================================================
// DECISION CACHE
// ============================================================================

// DecisionCache stores recent decision outcomes under their fingerprint.
// It is an optimization only; stale entries are bounded by the TTL and the
// tenant invalidation path.
type DecisionCache interface {
	Get(tenantID, fingerprint string) (bool, bool)
	Set(tenantID, fingerprint string, decision bool, ttl time.Duration)
	Invalidate(tenantID string)
}

// Fingerprint derives the stable cache key for a decision's inputs. The
// resource portion must already be canonical JSON.
func Fingerprint(tenantID, subjectID, permission, resourceJSON string) string {
	payload := tenantID + "|" + subjectID + "|" + permission + "|" + resourceJSON
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// MemoryDecisionCache is a mutex-guarded map cache with per-entry deadlines.
// Expired entries are dropped lazily on read.
type MemoryDecisionCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

type memoryCacheEntry struct {
	decision bool
	deadline time.Time
}

func NewMemoryDecisionCache() *MemoryDecisionCache {
	return &MemoryDecisionCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryDecisionCache) Get(tenantID, fingerprint string) (bool, bool) {
	key := tenantID + "/" + fingerprint
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, false
	}
	if !e.deadline.After(c.now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, false
	}
	return e.decision, true
}

func (c *MemoryDecisionCache) Set(tenantID, fingerprint string, decision bool, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID+"/"+fingerprint] = memoryCacheEntry{
		decision: decision,
		deadline: c.now().Add(ttl),
	}
}

func (c *MemoryDecisionCache) Invalidate(tenantID string) {
	prefix := tenantID + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

// RistrettoDecisionCache backs decisions with a ristretto cache. Ristretto
// has no keyspace scan, so tenant invalidation folds a per-tenant epoch
// counter into each key; bumping the epoch orphans every entry written under
// the old one, and the admission policy reclaims them.
type RistrettoDecisionCache struct {
	cache  *ristretto.Cache
	epochs sync.Map // tenantID -> *atomic.Uint64
}

// NewRistrettoDecisionCache sizes the cache for maxEntries decision results.
func NewRistrettoDecisionCache(maxEntries int64) (*RistrettoDecisionCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoDecisionCache{cache: cache}, nil
}

func (c *RistrettoDecisionCache) epoch(tenantID string) *atomic.Uint64 {
	if v, ok := c.epochs.Load(tenantID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := c.epochs.LoadOrStore(tenantID, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

func (c *RistrettoDecisionCache) key(tenantID, fingerprint string) string {
	return tenantID + "/" + strconv.FormatUint(c.epoch(tenantID).Load(), 10) + "/" + fingerprint
}

func (c *RistrettoDecisionCache) Get(tenantID, fingerprint string) (bool, bool) {
	v, ok := c.cache.Get(c.key(tenantID, fingerprint))
	if !ok {
		return false, false
	}
	decision, ok := v.(bool)
	return decision, ok
}

func (c *RistrettoDecisionCache) Set(tenantID, fingerprint string, decision bool, ttl time.Duration) {
	c.cache.SetWithTTL(c.key(tenantID, fingerprint), decision, 1, ttl)
}

func (c *RistrettoDecisionCache) Invalidate(tenantID string) {
	c.epoch(tenantID).Add(1)
}

// Close releases the underlying ristretto resources.
func (c *RistrettoDecisionCache) Close() {
	c.cache.Close()
}
