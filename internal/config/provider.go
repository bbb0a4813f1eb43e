package config

import (
	"fmt"
	"log/slog"
	"sync"
)

// Provider supplies the quota values consulted on every usage computation.
// Implementations must never return a non-positive limit: bad input is
// logged and replaced with a safe default rather than propagated.
type Provider interface {
	MaxStorageGB() float64
	WarningThresholdGB() float64
	MonitoringEnabled() bool
	Validate() error
}

// EnvProvider is a Provider backed by a loaded Config. Values can be
// updated at runtime through Update, which the admin surface uses; reads
// sanitize on the way out so a bad stored value can never disable the
// quota.
type EnvProvider struct {
	mu      sync.RWMutex
	limit   float64
	warning float64
	enabled bool
}

// NewEnvProvider builds a provider from the loaded configuration.
func NewEnvProvider(cfg Config) *EnvProvider {
	return &EnvProvider{
		limit:   cfg.MaxStorageGB,
		warning: cfg.WarningThresholdGB,
		enabled: cfg.MonitoringEnabled,
	}
}

// MaxStorageGB returns the configured limit, substituting the safe default
// when the stored value is not a positive number.
func (p *EnvProvider) MaxStorageGB() float64 {
	p.mu.RLock()
	limit := p.limit
	p.mu.RUnlock()

	if limit <= 0 {
		slog.Warn("invalid max storage limit, using default",
			"configured_gb", limit,
			"default_gb", DefaultMaxStorageGB,
		)
		return DefaultMaxStorageGB
	}
	return limit
}

// WarningThresholdGB returns the warning threshold. When unset or not
// strictly below the limit it falls back to 80% of the limit.
func (p *EnvProvider) WarningThresholdGB() float64 {
	limit := p.MaxStorageGB()

	p.mu.RLock()
	warning := p.warning
	p.mu.RUnlock()

	if warning <= 0 || warning >= limit {
		fallback := limit * 0.8
		if warning != 0 {
			slog.Warn("invalid warning threshold, using 80% of limit",
				"configured_gb", warning,
				"fallback_gb", fallback,
			)
		}
		return fallback
	}
	return warning
}

// MonitoringEnabled reports whether background monitoring should run.
func (p *EnvProvider) MonitoringEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Validate reports whether the raw configured values are usable without
// fallback substitution.
func (p *EnvProvider) Validate() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.limit <= 0 {
		return fmt.Errorf("provider: max storage must be > 0 GB, got %v", p.limit)
	}
	if p.warning < 0 {
		return fmt.Errorf("provider: warning threshold must be >= 0 GB, got %v", p.warning)
	}
	if p.warning > 0 && p.warning >= p.limit {
		return fmt.Errorf("provider: warning threshold %v GB must be below limit %v GB", p.warning, p.limit)
	}
	return nil
}

// Update replaces the quota values at runtime. Zero warning means
// "derive from limit".
func (p *EnvProvider) Update(limitGB, warningGB float64, enabled bool) {
	p.mu.Lock()
	p.limit = limitGB
	p.warning = warningGB
	p.enabled = enabled
	p.mu.Unlock()

	slog.Info("quota configuration updated",
		"limit_gb", limitGB,
		"warning_gb", warningGB,
		"monitoring_enabled", enabled,
	)
}
