// Package cache is the content cache shared with the managed agent
// processes: JSON payload files under the cache directory, with an SQLite
// metadata table (cache_meta.db) tracking size, expiry, and access recency
// for TTL expiry and LRU eviction.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MetaDBName is the metadata database file inside the cache directory.
const MetaDBName = "cache_meta.db"

// globalScope is the context hash used for entries stored without a context.
const globalScope = "global"

// Cache is an SQLite-backed content cache with TTL and LRU size eviction.
type Cache struct {
	dir     string
	maxSize int64
	db      *sql.DB
	mu      sync.Mutex
	now     func() time.Time
}

// Stats summarizes cache occupancy.
type Stats struct {
	Entries   int
	TotalSize int64
}

// SweepResult reports what an expiry sweep removed.
type SweepResult struct {
	Removed    int
	BytesFreed int64
}

// Open creates the cache directory if needed and opens the metadata database.
// maxSize is the total payload byte budget enforced on Set.
func Open(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, MetaDBName))
	if err != nil {
		return nil, fmt.Errorf("open cache metadata database: %w", err)
	}

	c := &Cache{dir: dir, maxSize: maxSize, db: db, now: time.Now}
	if err := c.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return c, nil
}

func (c *Cache) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		path TEXT,
		size INTEGER,
		created_at REAL,
		last_access REAL,
		access_count INTEGER,
		expires_at REAL,
		context_hash TEXT,
		confidence_score REAL
	);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Get returns the cached payload for key under the given context, bumping the
// access statistics. Expired entries and entries whose payload file has gone
// missing are invalidated and reported as a miss.
func (c *Cache) Get(key string, context map[string]any) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fullKey := compositeKey(key, context)

	var path string
	var expiresAt float64
	err := c.db.QueryRow(
		"SELECT path, expires_at FROM cache_entries WHERE key = ?", fullKey,
	).Scan(&path, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache entry: %w", err)
	}

	now := float64(c.now().UnixNano()) / 1e9
	if expiresAt > 0 && now > expiresAt {
		if err := c.invalidateLocked(fullKey); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		// Payload removed out from under us; drop the stale metadata.
		if err := c.invalidateLocked(fullKey); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	_, err = c.db.Exec(
		"UPDATE cache_entries SET last_access = ?, access_count = access_count + 1 WHERE key = ?",
		now, fullKey,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update cache access: %w", err)
	}
	return payload, true, nil
}

// Set stores value under key for the given context. A non-positive ttl
// expires immediately on the next Get. Eviction runs before the write so the
// configured byte budget holds afterwards.
func (c *Cache) Set(key string, value any, context map[string]any, ttl time.Duration, confidence float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	content, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.enforceSizeLimitLocked(int64(len(content))); err != nil {
		return err
	}

	fullKey := compositeKey(key, context)
	path := filepath.Join(c.dir, hashHex(fullKey)+".json")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write cache payload: %w", err)
	}

	now := float64(c.now().UnixNano()) / 1e9
	expires := now + ttl.Seconds()

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO cache_entries
		(key, path, size, created_at, last_access, access_count, expires_at, context_hash, confidence_score)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		fullKey, path, len(content), now, now, expires, contextHash(context), confidence,
	)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// Invalidate removes the entry for key under the given context.
func (c *Cache) Invalidate(key string, context map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(compositeKey(key, context))
}

// Stats returns entry count and total payload size.
func (c *Cache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	var size sql.NullInt64
	err := c.db.QueryRow("SELECT COUNT(*), SUM(size) FROM cache_entries").Scan(&s.Entries, &size)
	if err != nil {
		return Stats{}, fmt.Errorf("query cache stats: %w", err)
	}
	s.TotalSize = size.Int64
	return s, nil
}

// Sweep deletes entries expired as of now, removes their payload files, and
// compacts the metadata database. Used by the nightly maintenance pass.
func (c *Cache) Sweep(now time.Time) (SweepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := float64(now.UnixNano()) / 1e9
	rows, err := c.db.Query("SELECT path, size FROM cache_entries WHERE expires_at < ?", cutoff)
	if err != nil {
		return SweepResult{}, fmt.Errorf("query expired entries: %w", err)
	}

	var res SweepResult
	var paths []string
	for rows.Next() {
		var path string
		var size int64
		if err := rows.Scan(&path, &size); err != nil {
			_ = rows.Close()
			return SweepResult{}, fmt.Errorf("scan expired entry: %w", err)
		}
		paths = append(paths, path)
		res.BytesFreed += size
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return SweepResult{}, fmt.Errorf("iterate expired entries: %w", err)
	}
	_ = rows.Close()

	for _, path := range paths {
		if err := os.Remove(path); err == nil || os.IsNotExist(err) {
			res.Removed++
		}
	}

	if _, err := c.db.Exec("DELETE FROM cache_entries WHERE expires_at < ?", cutoff); err != nil {
		return res, fmt.Errorf("delete expired entries: %w", err)
	}
	if _, err := c.db.Exec("VACUUM"); err != nil {
		return res, fmt.Errorf("vacuum cache metadata: %w", err)
	}
	return res, nil
}

// Close closes the metadata database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// Clear destroys and recreates the cache directory. This is the restart
// cycle's unconditional cache wipe; it needs no open Cache handle.
func Clear(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreate cache directory: %w", err)
	}
	return nil
}

func (c *Cache) invalidateLocked(fullKey string) error {
	var path string
	err := c.db.QueryRow("SELECT path FROM cache_entries WHERE key = ?", fullKey).Scan(&path)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query cache entry for invalidation: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache payload: %w", err)
	}
	if _, err := c.db.Exec("DELETE FROM cache_entries WHERE key = ?", fullKey); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// enforceSizeLimitLocked evicts least-recently-accessed entries until the new
// payload fits the budget. An oversized value is still stored once the cache
// is empty.
func (c *Cache) enforceSizeLimitLocked(newSize int64) error {
	if c.maxSize <= 0 {
		return nil
	}

	var current sql.NullInt64
	if err := c.db.QueryRow("SELECT SUM(size) FROM cache_entries").Scan(&current); err != nil {
		return fmt.Errorf("query cache size: %w", err)
	}

	total := current.Int64
	for total+newSize > c.maxSize {
		var key, path string
		var size int64
		err := c.db.QueryRow(
			"SELECT key, path, size FROM cache_entries ORDER BY last_access ASC LIMIT 1",
		).Scan(&key, &path, &size)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return fmt.Errorf("query LRU entry: %w", err)
		}
		if err := c.invalidateLocked(key); err != nil {
			return err
		}
		total -= size
	}
	return nil
}

func compositeKey(key string, context map[string]any) string {
	if context == nil {
		return key
	}
	return key + "::" + contextHash(context)
}

func contextHash(context map[string]any) string {
	if context == nil {
		return globalScope
	}
	// json.Marshal sorts map keys, making the hash order-independent.
	raw, err := json.Marshal(context)
	if err != nil {
		return globalScope
	}
	return hashHex(string(raw))
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
