package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Cache memoizes successful completions keyed by the exact prompt text.
// A zero TTL keeps entries until they are evicted or purged.
type Cache struct {
	mu         sync.Mutex
	entries    *lru.Cache
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       uint64
	misses     uint64
	evictions  uint64
}

type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type cacheEntry struct {
	text     string
	storedAt time.Time
}

func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		entries:    lru.New(maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Fingerprint is the cache key for a prompt.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(prompt string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Fingerprint(prompt)
	value, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		return "", false
	}
	entry := value.(cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.entries.Remove(key)
		c.misses++
		return "", false
	}
	c.hits++
	return entry.text, true
}

func (c *Cache) Put(prompt, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Fingerprint(prompt)
	if c.maxEntries > 0 && c.entries.Len() >= c.maxEntries {
		if _, exists := c.entries.Get(key); !exists {
			c.evictions++
		}
	}
	c.entries.Add(key, cacheEntry{text: text, storedAt: c.now()})
}

func (c *Cache) Invalidate(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(Fingerprint(prompt))
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = lru.New(c.maxEntries)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   c.entries.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
