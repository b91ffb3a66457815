// Package metadata resolves external track, album and artist records and
// caches lookups for the duration of one import run.
package metadata

import (
	"strings"
	"sync"

	"github.com/jfmyers9/tidewatch/internal/store"
)

// Entry is a cached lookup result: either a resolved track record or a
// definitive "does not exist" marker.
type Entry struct {
	Track   *store.TrackRecord
	Missing bool
}

// Cache is a bounded lookup cache scoped to a single import run. When full,
// the oldest entries are dropped; the backing store remains the source of
// truth, so eviction only costs a repeat query.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string]Entry
	order   []string
}

// DefaultCacheSize bounds a run's cache when no size is configured.
const DefaultCacheSize = 2000

// NewCache creates a cache holding at most max entries.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:     max,
		entries: make(map[string]Entry, max),
	}
}

// KeyForID returns the cache key for a source-native track id.
func KeyForID(id string) string {
	return "id\x00" + id
}

// KeyForNames returns the cache key for a fuzzy (track, artist) name pair.
func KeyForNames(trackName, artistName string) string {
	return "name\x00" + strings.ToLower(strings.TrimSpace(trackName)) + "\x00" + strings.ToLower(strings.TrimSpace(artistName))
}

// Get returns the cached entry for key, if any.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return e, ok
}

// PutTrack caches a resolved track under key.
func (c *Cache) PutTrack(key string, track *store.TrackRecord) {
	c.put(key, Entry{Track: track})
}

// PutMissing caches a definitive not-found under key so the run never
// repeats the lookup.
func (c *Cache) PutMissing(key string) {
	c.put(key, Entry{Missing: true})
}

func (c *Cache) put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = e

	for len(c.entries) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
