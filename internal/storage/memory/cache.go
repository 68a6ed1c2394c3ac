package memory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Vasu1712/scenyx-hub/internal/logging"
)

type entry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

// Cache is the single-node storage adapter: a bounded LRU where every entry
// also carries its own deadline. Expired entries read as misses and are never
// promoted, so they are the first to go once Size is exceeded. Reads never
// remove entries; a concurrent Set must not lose its value to a stale read.
type Cache struct {
	entries *lru.Cache[string, entry]
	ttl     time.Duration
	now     func() time.Time
	log     *logging.Logger
}

// Options configures a Cache.
type Options struct {
	Size       int           // maximum number of entries, defaults to 1000
	DefaultTTL time.Duration // applied when Set is called with ttl == 0
	Now        func() time.Time
}

// New returns an empty Cache.
func New(opts Options, log *logging.Logger) (*Cache, error) {
	if opts.Size <= 0 {
		opts.Size = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	entries, err := lru.New[string, entry](opts.Size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, ttl: opts.DefaultTTL, now: opts.Now, log: log.With("LRU")}, nil
}

func (c *Cache) expired(e entry) bool {
	return !e.expireAt.IsZero() && !c.now().Before(e.expireAt)
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool) {
	if e, ok := c.entries.Peek(key); !ok || c.expired(e) {
		return nil, false
	}
	e, ok := c.entries.Get(key)
	if !ok || c.expired(e) {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expireAt = c.now().Add(ttl)
	}
	if evicted := c.entries.Add(key, e); evicted {
		c.log.Debugf("evicted least recently used entry while storing %s", key)
	}
}

func (c *Cache) Delete(_ context.Context, key string) {
	c.entries.Remove(key)
}

func (c *Cache) Clear(_ context.Context) {
	c.entries.Purge()
}

// Len reports the number of entries, expired ones included until they are
// overwritten or evicted.
func (c *Cache) Len() int {
	return c.entries.Len()
}
