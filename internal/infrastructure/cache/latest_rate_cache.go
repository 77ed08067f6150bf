package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/domain/entity"
)

// CacheEntry represents a cached rate record with expiration
type CacheEntry struct {
	Record    entity.RateRecord
	Timestamp time.Time
}

// LatestRateCache provides a thread-safe in-memory cache of the newest record per target currency
type LatestRateCache struct {
	cache      map[string]CacheEntry
	expiration time.Duration
	now        func() time.Time
	mutex      sync.RWMutex
}

// NewLatestRateCache creates a new latest rate cache
func NewLatestRateCache() *LatestRateCache {
	return &LatestRateCache{
		cache:      make(map[string]CacheEntry),
		expiration: 24 * time.Hour, // Default 24h expiration
		now:        time.Now,
	}
}

// Get retrieves the latest record for a currency if available and not expired
func (c *LatestRateCache) Get(currency string) (entity.RateRecord, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[currency]
	if !exists || c.now().Sub(entry.Timestamp) > c.expiration {
		return entity.RateRecord{}, false
	}

	return entry.Record, true
}

// All returns every unexpired record ordered by target currency
func (c *LatestRateCache) All() []entity.RateRecord {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	records := make([]entity.RateRecord, 0, len(c.cache))
	for _, entry := range c.cache {
		if now.Sub(entry.Timestamp) <= c.expiration {
			records = append(records, entry.Record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].TargetCurrency < records[j].TargetCurrency
	})
	return records
}

// PutAll stores the newest stored record per currency. A cached record for the same or a
// later observed date is kept, matching the store's first-write-wins rule, but its entry is refreshed.
func (c *LatestRateCache) PutAll(records []entity.RateRecord) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, r := range records {
		c.put(r)
	}
}

func (c *LatestRateCache) put(record entity.RateRecord) {
	if existing, ok := c.cache[record.TargetCurrency]; ok && existing.Record.ObservedDate >= record.ObservedDate {
		existing.Timestamp = c.now()
		c.cache[record.TargetCurrency] = existing
		return
	}

	c.cache[record.TargetCurrency] = CacheEntry{
		Record:    record,
		Timestamp: c.now(),
	}
}

// SetExpiration sets the cache expiration duration
func (c *LatestRateCache) SetExpiration(duration time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.expiration = duration
}

// Size returns the number of items in the cache
func (c *LatestRateCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.cache)
}

// CleanExpired removes expired entries from the cache
func (c *LatestRateCache) CleanExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	now := c.now()

	for key, entry := range c.cache {
		if now.Sub(entry.Timestamp) > c.expiration {
			delete(c.cache, key)
			count++
		}
	}

	return count
}
