package config

import (
	"fmt"
	"time"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
//
// Quota values (limit, warning threshold) are deliberately not validated
// here: the Provider substitutes safe defaults for those at read time so
// a bad value never takes the daemon down.
func (c Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("config: QUOTAD_STORAGE_ROOT is required")
	}

	if c.CacheTTL < time.Second {
		return fmt.Errorf("config: CacheTTL must be >= 1s, got %v", c.CacheTTL)
	}

	if c.TickInterval < time.Second {
		return fmt.Errorf("config: TickInterval must be >= 1s, got %v", c.TickInterval)
	}

	if c.PurgeInterval < time.Minute {
		return fmt.Errorf("config: PurgeInterval must be >= 1m, got %v", c.PurgeInterval)
	}

	if c.EventRetention < time.Hour {
		return fmt.Errorf("config: EventRetention must be >= 1h, got %v", c.EventRetention)
	}

	if c.NotificationRetention < time.Hour {
		return fmt.Errorf("config: NotificationRetention must be >= 1h, got %v", c.NotificationRetention)
	}

	if c.StopTimeout <= 0 {
		return fmt.Errorf("config: StopTimeout must be > 0, got %v", c.StopTimeout)
	}

	if c.RedisEnabled && c.RedisAddr == "" {
		return fmt.Errorf("config: QUOTAD_REDIS_ADDR is required when Redis is enabled")
	}

	if c.KeyPrefix == "" {
		return fmt.Errorf("config: QUOTAD_KEY_PREFIX must not be empty")
	}

	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("config: HealthPort must be 0-65535, got %d", c.HealthPort)
	}

	return nil
}
