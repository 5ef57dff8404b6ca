package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/git-pkgs/resolve"
)

// Cache is a read-through decorator for a metadata source, backed by
// BadgerDB. Release metadata is immutable once published, so cached entries
// are kept until their TTL expires. Errors from the underlying source are
// never cached: an unknown package stays a live query so a later publish
// becomes visible.
type Cache struct {
	db     *badger.DB
	source resolve.Source
	ttl    time.Duration
	logger *slog.Logger
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	// Dir is the directory for the cache database. Required unless
	// InMemory is set.
	Dir string

	// InMemory keeps the cache in memory only. Useful for testing.
	InMemory bool

	// TTL is how long cached entries live. Default: 24h.
	TTL time.Duration

	// Logger receives cache diagnostics. Nil disables them, badger's
	// internal logging included.
	Logger *slog.Logger
}

// NewCache wraps source with a badger-backed cache. The caller must Close
// the cache when done.
func NewCache(source resolve.Source, cfg CacheConfig) (*Cache, error) {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("metadata: cache dir required unless in-memory")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("metadata: open cache: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{db: db, source: source, ttl: cfg.TTL, logger: logger}, nil
}

// Close releases the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// ListVersions implements resolve.Source.
func (c *Cache) ListVersions(ctx context.Context, name string) ([]string, error) {
	name = resolve.NormalizeName(name)
	key := []byte("versions\x00" + name)

	var versions []string
	if c.get(key, &versions) {
		return versions, nil
	}
	versions, err := c.source.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	c.put(key, versions)
	return versions, nil
}

// ListRequirements implements resolve.Source.
func (c *Cache) ListRequirements(ctx context.Context, name, version string) ([]resolve.Dependency, error) {
	name = resolve.NormalizeName(name)
	key := []byte("requires\x00" + name + "\x00" + version)

	var deps []resolve.Dependency
	if c.get(key, &deps) {
		return deps, nil
	}
	deps, err := c.source.ListRequirements(ctx, name, version)
	if err != nil {
		return nil, err
	}
	c.put(key, deps)
	return deps, nil
}

// get loads a cached entry into out. A read or decode failure is a miss.
func (c *Cache) get(key []byte, out any) bool {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("cache read failed", "key", string(key), "error", err)
		}
		return false
	}
	return true
}

// put stores an entry with the cache TTL. A write failure only loses the
// caching benefit, so it is logged rather than surfaced.
func (c *Cache) put(key []byte, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", string(key), "error", err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, raw).WithTTL(c.ttl))
	})
	if err != nil {
		c.logger.Warn("cache write failed", "key", string(key), "error", err)
	}
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
