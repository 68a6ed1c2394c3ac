package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Storage strategies accepted in STORAGE_STRATEGY.
const (
	StorageLRU   = "lru"
	StorageRedis = "redis"
)

// ErrMissingSecret is returned when JWT_SECRET_KEY is unset.
var ErrMissingSecret = errors.New("JWT_SECRET_KEY is required")

// Config holds the hub settings. Values come from the process environment,
// optionally seeded from a .env file.
type Config struct {
	Port            string
	NodeID          string
	SecretKey       string
	StorageStrategy string
	RedisURL        string
	CachePrefix     string
	MaxCacheSize    int
	ClearBatchSize  int
	SessionTTL      time.Duration
	RoomTTL         time.Duration
	DocumentStore   string
	SnapshotDSN     string
	RecordingOn     bool
	RecordingTTL    time.Duration
	MetricsToken    string
	CORSOrigins     []string
	VolatileRate    float64
	VolatileBurst   int
	LogLevel        string
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:            getenv("PORT", "3002"),
		NodeID:          getenv("NODE_ID", uuid.NewString()),
		SecretKey:       strings.TrimSpace(os.Getenv("JWT_SECRET_KEY")),
		StorageStrategy: strings.ToLower(getenv("STORAGE_STRATEGY", StorageLRU)),
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379"),
		CachePrefix:     getenv("CACHE_PREFIX", "whiteboard:"),
		MaxCacheSize:    getenvInt("MAX_CACHE_SIZE", 1000),
		ClearBatchSize:  getenvInt("CLEAR_BATCH_SIZE", 100),
		SessionTTL:      getenvDuration("SESSION_TTL", 24*time.Hour),
		RoomTTL:         getenvDuration("ROOM_TTL", 24*time.Hour),
		DocumentStore:   strings.TrimRight(getenv("NEXTCLOUD_URL", ""), "/"),
		SnapshotDSN:     getenv("SNAPSHOT_DSN", ""),
		RecordingTTL:    getenvDuration("RECORDING_TOKEN_TTL", 24*time.Hour),
		MetricsToken:    getenv("METRICS_TOKEN", ""),
		CORSOrigins:     splitList(getenv("CORS_ORIGINS", "*")),
		VolatileRate:    getenvFloat("VOLATILE_RATE", 30),
		VolatileBurst:   getenvInt("VOLATILE_BURST", 15),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}
	if v, ok := getenvBool("RECORDING_ENABLED"); ok {
		cfg.RecordingOn = v
	}
	if cfg.StorageStrategy != StorageRedis {
		cfg.StorageStrategy = StorageLRU
	}
	if cfg.SecretKey == "" {
		return cfg, ErrMissingSecret
	}
	return cfg, nil
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func getenv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func getenvInt(name string, def int) int {
	if i, err := strconv.Atoi(getenv(name, "")); err == nil && i > 0 {
		return i
	}
	return def
}

func getenvFloat(name string, def float64) float64 {
	if f, err := strconv.ParseFloat(getenv(name, ""), 64); err == nil && f > 0 {
		return f
	}
	return def
}

// getenvDuration accepts Go durations ("90s") or plain seconds ("90").
func getenvDuration(name string, def time.Duration) time.Duration {
	v := getenv(name, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getenvBool(name string) (bool, bool) {
	switch strings.ToLower(getenv(name, "")) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
