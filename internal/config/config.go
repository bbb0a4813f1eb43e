package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// DefaultMaxStorageGB is the safe fallback limit applied when the
// configured value is missing or invalid.
const DefaultMaxStorageGB = 10.0

// Config holds all daemon configuration values.
type Config struct {
	InstanceID string

	// Storage probe
	StorageRoot     string        // QUOTAD_STORAGE_ROOT
	ProbeRetryDelay time.Duration // QUOTAD_PROBE_RETRY_DELAY, default: 500ms

	// Quota
	MaxStorageGB       float64 // QUOTAD_MAX_STORAGE_GB, default: 10
	WarningThresholdGB float64 // QUOTAD_WARNING_THRESHOLD_GB, default: 80% of limit
	MonitoringEnabled  bool    // QUOTAD_MONITORING_ENABLED, default: true

	// Usage cache
	CacheTTL time.Duration // QUOTAD_CACHE_TTL, default: 5m

	// Threshold monitor
	TickInterval          time.Duration // QUOTAD_TICK_INTERVAL, default: 5m
	PurgeInterval         time.Duration // QUOTAD_PURGE_INTERVAL, default: 1h
	EventRetention        time.Duration // QUOTAD_EVENT_RETENTION, default: 168h (7 days)
	NotificationRetention time.Duration // QUOTAD_NOTIFICATION_RETENTION, default: 72h (3 days)
	StopTimeout           time.Duration // QUOTAD_STOP_TIMEOUT, default: 10s

	// Shared store
	RedisAddr     string // QUOTAD_REDIS_ADDR, default: localhost:6379
	RedisPassword string // QUOTAD_REDIS_PASSWORD
	RedisDB       int    // QUOTAD_REDIS_DB, default: 0
	RedisEnabled  bool   // QUOTAD_REDIS_ENABLED, default: true; false falls back to in-memory store
	KeyPrefix     string // QUOTAD_KEY_PREFIX, default: storage_quota

	// Notifications
	WebhookURL     string        // QUOTAD_WEBHOOK_URL, empty disables the webhook sink
	WebhookTimeout time.Duration // QUOTAD_WEBHOOK_TIMEOUT, default: 10s

	// Event archival
	ArchiveDir string // QUOTAD_ARCHIVE_DIR, empty disables archival

	// Health server
	HealthPort     int  // QUOTAD_HEALTH_PORT, default: 8080
	DebugEndpoints bool // QUOTAD_DEBUG_ENDPOINTS, default: false
}

// Load reads configuration from the environment (and an optional .env
// file) and returns a Config with defaults applied for any unset values.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		InstanceID:            os.Getenv("QUOTAD_INSTANCE_ID"),
		StorageRoot:           envOrDefault("QUOTAD_STORAGE_ROOT", "/var/lib/captionhq/media"),
		ProbeRetryDelay:       parseDuration("QUOTAD_PROBE_RETRY_DELAY", 500*time.Millisecond),
		MaxStorageGB:          parseFloat("QUOTAD_MAX_STORAGE_GB", DefaultMaxStorageGB),
		WarningThresholdGB:    parseFloat("QUOTAD_WARNING_THRESHOLD_GB", 0),
		MonitoringEnabled:     parseBool("QUOTAD_MONITORING_ENABLED", true),
		CacheTTL:              parseDuration("QUOTAD_CACHE_TTL", 5*time.Minute),
		TickInterval:          parseDuration("QUOTAD_TICK_INTERVAL", 5*time.Minute),
		PurgeInterval:         parseDuration("QUOTAD_PURGE_INTERVAL", time.Hour),
		EventRetention:        parseDuration("QUOTAD_EVENT_RETENTION", 7*24*time.Hour),
		NotificationRetention: parseDuration("QUOTAD_NOTIFICATION_RETENTION", 3*24*time.Hour),
		StopTimeout:           parseDuration("QUOTAD_STOP_TIMEOUT", 10*time.Second),
		RedisAddr:             envOrDefault("QUOTAD_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         os.Getenv("QUOTAD_REDIS_PASSWORD"),
		RedisDB:               parseInt("QUOTAD_REDIS_DB", 0),
		RedisEnabled:          parseBool("QUOTAD_REDIS_ENABLED", true),
		KeyPrefix:             envOrDefault("QUOTAD_KEY_PREFIX", "storage_quota"),
		WebhookURL:            os.Getenv("QUOTAD_WEBHOOK_URL"),
		WebhookTimeout:        parseDuration("QUOTAD_WEBHOOK_TIMEOUT", 10*time.Second),
		ArchiveDir:            os.Getenv("QUOTAD_ARCHIVE_DIR"),
		HealthPort:            parseInt("QUOTAD_HEALTH_PORT", 8080),
		DebugEndpoints:        parseBool("QUOTAD_DEBUG_ENDPOINTS", false),
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
