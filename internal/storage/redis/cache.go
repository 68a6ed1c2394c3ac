package redis

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/scenyx-hub/internal/logging"
)

const defaultScanBatch = 100

// Cache is the multi-node storage adapter backed by Redis or Valkey. Keys are
// namespaced with Prefix so several logical caches can share one keyspace.
type Cache struct {
	client    valkey.Client
	prefix    string
	scanBatch int64
	log       *logging.Logger
}

// Options configures a Cache.
type Options struct {
	Prefix    string
	ScanBatch int // keys per SCAN round trip in Clear
}

// Dial connects to the server named by a redis:// URL.
func Dial(url string) (valkey.Client, error) {
	opt, err := valkey.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return valkey.NewClient(opt)
}

// New wraps an existing client.
func New(client valkey.Client, opts Options, log *logging.Logger) *Cache {
	batch := int64(opts.ScanBatch)
	if batch <= 0 {
		batch = defaultScanBatch
	}
	return &Cache{client: client, prefix: opts.Prefix, scanBatch: batch, log: log.With("Redis")}
}

func (c *Cache) key(k string) string { return c.prefix + k }

// TTLSeconds converts ttl to whole seconds, rounding up with a floor of one.
func TTLSeconds(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if err != nil {
		if !valkey.IsValkeyNil(err) {
			c.log.Warnf("get %s failed, treating as miss: %v", key, err)
		}
		return nil, false
	}
	return b, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).ExSeconds(TTLSeconds(ttl)).Build()
	} else {
		cmd = c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).Build()
	}
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.log.Warnf("set %s failed, dropping write: %v", key, err)
	}
}

func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error(); err != nil {
		c.log.Warnf("delete %s failed: %v", key, err)
	}
}

// Clear removes every key under the prefix, one SCAN batch at a time, so the
// server is never asked for the whole keyspace in a single command.
func (c *Cache) Clear(ctx context.Context) {
	var (
		cursor  uint64
		removed int
	)
	pattern := c.prefix + "*"
	for {
		entry, err := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(c.scanBatch).Build()).AsScanEntry()
		if err != nil {
			c.log.Warnf("clear aborted after %d keys: %v", removed, err)
			return
		}
		if len(entry.Elements) > 0 {
			if err := c.client.Do(ctx, c.client.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				c.log.Warnf("clear batch delete failed: %v", err)
			} else {
				removed += len(entry.Elements)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	c.log.Infof("cleared %d keys under %q", removed, c.prefix)
}

const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

var unlockLua = valkey.NewLuaScript(unlockScript)

// TryLock implements storage.Locker with SET NX PX.
func (c *Cache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	token := uuid.NewString()
	cmd := c.client.B().Set().Key(c.key(key)).Value(token).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	err := c.client.Do(ctx, cmd).Error()
	if err != nil {
		if !valkey.IsValkeyNil(err) {
			c.log.Warnf("lock %s failed: %v", key, err)
		}
		return "", false
	}
	return token, true
}

// Unlock deletes key only while it still holds token.
func (c *Cache) Unlock(ctx context.Context, key, token string) {
	if err := unlockLua.Exec(ctx, c.client, []string{c.key(key)}, []string{token}).Error(); err != nil {
		c.log.Warnf("unlock %s failed, lock will expire: %v", key, err)
	}
}
