package sqlite

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edgebet/intelgate/pkg/models"
)

// Cache is the durable fingerprint cache backed by SQLite.
type Cache struct {
	db     *sql.DB
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	payload BLOB NOT NULL,
	stored_at DATETIME NOT NULL,
	ttl_seconds INTEGER NOT NULL
);
`

// New opens the cache database at dbPath.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

// Load retrieves an entry regardless of expiry; the caller decides eligibility.
func (c *Cache) Load(fingerprint string) (models.CacheEntry, bool) {
	var e models.CacheEntry
	var ttlSeconds int64

	err := c.db.QueryRow(
		`SELECT fingerprint, provider, payload, stored_at, ttl_seconds FROM cache_entries WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&e.Fingerprint, &e.SourceProvider, &e.Payload, &e.StoredAt, &ttlSeconds)
	if err != nil {
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}

	e.TTL = time.Duration(ttlSeconds) * time.Second
	c.hits.Add(1)
	return e, true
}

// Save stores an entry, replacing any previous one for the fingerprint.
func (c *Cache) Save(e models.CacheEntry) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO cache_entries (fingerprint, provider, payload, stored_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Fingerprint, e.SourceProvider, e.Payload, e.StoredAt.UTC(), int64(e.TTL.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	return nil
}

// Stats returns durable cache metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) (int64, error) {
	var res sql.Result
	var err error
	if expiredOnly {
		res, err = c.db.Exec(`DELETE FROM cache_entries WHERE (julianday('now') - julianday(stored_at)) * 86400 > ttl_seconds`)
	} else {
		res, err = c.db.Exec(`DELETE FROM cache_entries`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
