package cache

import (
	"bytes"
	"container/list"
	"log"
	"sync"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
)

// Store is a durable tier behind the in-memory LRU.
type Store interface {
	Load(fingerprint string) (models.CacheEntry, bool)
	Save(entry models.CacheEntry) error
}

// LRU is a TTL cache bounded to MaxEntries, evicting the least recently used
// entry on overflow. A single mutex guards the map, the list and the counters.
type LRU struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	items      map[string]*list.Element
	order      *list.List
	store      Store
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// Option configures an LRU.
type Option func(*LRU)

// WithStore writes entries through to a durable store and reads it on a memory miss.
func WithStore(s Store) Option {
	return func(c *LRU) { c.store = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *LRU) { c.now = now }
}

// New creates an LRU holding at most maxEntries entries with a default TTL.
func New(maxEntries int, ttl time.Duration, opts ...Option) *LRU {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &LRU{
		maxEntries: maxEntries,
		ttl:        ttl,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the default time-to-live.
func (c *LRU) TTL() time.Duration { return c.ttl }

// Get returns the payload stored under fingerprint if present and not expired.
func (c *LRU) Get(fingerprint string) ([]byte, bool) {
	e, ok := c.Lookup(fingerprint)
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// Lookup is Get with entry metadata. Expired entries are purged and reported as absent.
func (c *LRU) Lookup(fingerprint string) (models.CacheEntry, bool) {
	return c.LookupWithin(fingerprint, 0)
}

// LookupWithin is Lookup for a caller that only accepts entries stored less
// than maxAge ago. An older entry is kept but counts as a miss. A non-positive
// maxAge accepts any unexpired entry. The returned payload is a copy.
func (c *LRU) LookupWithin(fingerprint string, maxAge time.Duration) (models.CacheEntry, bool) {
	now := c.now()
	fresh := func(e models.CacheEntry) bool {
		return maxAge <= 0 || now.Sub(e.StoredAt) < maxAge
	}

	c.mu.Lock()
	if el, ok := c.items[fingerprint]; ok {
		e := el.Value.(models.CacheEntry)
		switch {
		case e.Expired(now):
			c.removeElement(el)
		case fresh(e):
			c.order.MoveToFront(el)
			c.hits++
			c.mu.Unlock()
			return cloned(e), true
		default:
			c.misses++
			c.mu.Unlock()
			return models.CacheEntry{}, false
		}
	}
	store := c.store
	c.mu.Unlock()

	if store != nil {
		if e, ok := store.Load(fingerprint); ok && !e.Expired(now) {
			c.mu.Lock()
			c.insert(e)
			hit := fresh(e)
			if hit {
				c.hits++
			} else {
				c.misses++
			}
			c.mu.Unlock()
			if hit {
				return cloned(e), true
			}
			return models.CacheEntry{}, false
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return models.CacheEntry{}, false
}

// Peek returns the entry even if it has expired, without touching recency or
// counters. Used to serve stale data to callers that asked for it.
func (c *LRU) Peek(fingerprint string) (models.CacheEntry, bool) {
	c.mu.Lock()
	el, ok := c.items[fingerprint]
	var e models.CacheEntry
	if ok {
		e = el.Value.(models.CacheEntry)
	}
	store := c.store
	c.mu.Unlock()
	if ok {
		return cloned(e), true
	}
	if store != nil {
		return store.Load(fingerprint)
	}
	return models.CacheEntry{}, false
}

// cloned gives callers their own payload so stored entries never change.
func cloned(e models.CacheEntry) models.CacheEntry {
	e.Payload = bytes.Clone(e.Payload)
	return e
}

// Put stores payload under fingerprint. A non-positive ttl uses the default.
func (c *LRU) Put(fingerprint string, payload []byte, ttl time.Duration, provider string) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := models.CacheEntry{
		Fingerprint:    fingerprint,
		Payload:        append([]byte(nil), payload...),
		StoredAt:       c.now(),
		TTL:            ttl,
		SourceProvider: provider,
	}

	c.mu.Lock()
	c.insert(e)
	store := c.store
	c.mu.Unlock()

	if store != nil {
		if err := store.Save(e); err != nil {
			log.Printf("cache: persist %s: %v", short(fingerprint), err)
		}
	}
}

// insert must be called with c.mu held.
func (c *LRU) insert(e models.CacheEntry) {
	if el, ok := c.items[e.Fingerprint]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}
	c.items[e.Fingerprint] = c.order.PushFront(e)
	for c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Back())
		c.evictions++
	}
}

func (c *LRU) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(models.CacheEntry).Fingerprint)
}

// Purge drops every expired entry and returns how many were removed.
func (c *LRU) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(models.CacheEntry).Expired(now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the number of entries held in memory, expired ones included.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cache performance metrics for the in-memory tier.
func (c *LRU) Stats() (models.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CacheStats{
		Entries:   int64(c.order.Len()),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}, nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
