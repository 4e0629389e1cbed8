package requestcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite" // SQLite driver
)

// Cache is a persistent request-fingerprint to response store backed by
// SQLite. Concurrent misses for the same fingerprint collapse into a
// single upstream fetch; every duplicate caller is served from the result
// of that one call.
type Cache struct {
	db     *sql.DB
	dbPath string
	group  singleflight.Group
}

// Options configures Cache behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for concurrent readers.
	EnableWAL bool
}

// DefaultOptions returns the default cache options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the request cache under dir.
func Open(dir string, opts Options) (*Cache, error) {
	dbPath := filepath.Join(dir, "requests.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("request cache not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check cache path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open request cache: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	c := &Cache{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := c.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return c, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		fingerprint TEXT PRIMARY KEY,
		response BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := c.db.ExecContext(context.Background(), schema)
	return err
}

// Fingerprint builds a canonical cache key from the request URL, its
// options, and the expected response shape. Option keys are sorted so
// logically equal requests always produce the same key.
func Fingerprint(url string, options map[string]string, shape string) string {
	type entry struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	entries := make([]entry, 0, len(options))
	for k, v := range options {
		entries = append(entries, entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	key := struct {
		URL     string  `json:"url"`
		Options []entry `json:"options,omitempty"`
		Shape   string  `json:"shape,omitempty"`
	}{URL: url, Options: entries, Shape: shape}

	data, _ := json.Marshal(key)
	return string(data)
}

// Get returns the cached response for fingerprint, with a hit indicator.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	var response []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT response FROM requests WHERE fingerprint = ?", fingerprint,
	).Scan(&response)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read request cache: %w", err)
	}
	return response, true, nil
}

// Put stores a response under fingerprint, replacing any previous value.
// Empty responses are legitimate (a not-found is valid empty data), so a
// nil slice is stored as a zero-length blob.
func (c *Cache) Put(ctx context.Context, fingerprint string, response []byte) error {
	if response == nil {
		response = []byte{}
	}
	_, err := c.db.ExecContext(ctx, `
	INSERT INTO requests (fingerprint, response) VALUES (?, ?)
	ON CONFLICT(fingerprint) DO UPDATE SET
		response = excluded.response,
		created_at = CURRENT_TIMESTAMP
	`, fingerprint, response)
	if err != nil {
		return fmt.Errorf("failed to write request cache: %w", err)
	}
	return nil
}

// Do returns the cached response for fingerprint, or invokes fetch exactly
// once across all concurrent callers of the same fingerprint and caches its
// result. This is the at-most-one-in-flight-fetch-per-key discipline.
func (c *Cache) Do(ctx context.Context, fingerprint string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, hit, err := c.Get(ctx, fingerprint); err != nil {
		return nil, err
	} else if hit {
		return data, nil
	}

	result, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		// Another caller may have filled the cache while we queued.
		if data, hit, err := c.Get(ctx, fingerprint); err != nil {
			return nil, err
		} else if hit {
			return data, nil
		}

		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, fingerprint, data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
