package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/captionhq/storage-quota/internal/config"
	"github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/observability"
	"github.com/captionhq/storage-quota/pkg/model"
)

// Cache wraps a Prober with a time-boxed snapshot cache. The cache never
// auto-refreshes: a snapshot younger than the TTL is returned unchanged,
// and only Invalidate forces the next Metrics call to recompute.
//
// Failure policy: when a recompute fails, the previous snapshot is served
// stale if one exists; otherwise a conservative snapshot at 110% of the
// limit is synthesized so consumers fail safe toward denial.
type Cache struct {
	prober   Prober
	provider config.Provider
	clock    errors.Clock
	ttl      time.Duration
	metrics  *observability.Metrics

	mu   sync.Mutex
	snap *model.UsageSnapshot
}

// NewCache creates a Cache over the given prober.
func NewCache(prober Prober, provider config.Provider, ttl time.Duration, clock errors.Clock, metrics *observability.Metrics) *Cache {
	return &Cache{
		prober:   prober,
		provider: provider,
		clock:    clock,
		ttl:      ttl,
		metrics:  metrics,
	}
}

// Metrics returns the current usage snapshot. The returned snapshot is
// always usable; a non-nil error reports that the data is degraded (stale
// or synthesized) because the underlying probe failed.
func (c *Cache) Metrics(ctx context.Context) (model.UsageSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.snap != nil && c.snap.Age(now) < c.ttl {
		c.metrics.CacheHitsTotal.Inc()
		return *c.snap, nil
	}

	c.metrics.CacheMissesTotal.Inc()
	limitGB := c.provider.MaxStorageGB()
	warningGB := c.provider.WarningThresholdGB()

	res, err := c.prober.ComputeUsage(ctx)
	if err != nil {
		if c.snap != nil {
			slog.Warn("usage probe failed, serving stale snapshot",
				"age", c.snap.Age(now).Round(time.Second),
				"error", err,
			)
			return *c.snap, err
		}

		c.metrics.CacheFailSafeTotal.Inc()
		slog.Error("usage probe failed with no previous snapshot, synthesizing fail-safe usage",
			"limit_gb", limitGB,
			"error", err,
		)
		snap := model.NewEstimatedSnapshot(limitGB, warningGB, now)
		c.snap = &snap
		c.publishGauges(snap)
		return snap, err
	}

	snap := model.NewUsageSnapshot(res.TotalBytes, limitGB, warningGB, now)
	snap.FileCount = res.FileCount
	snap.SkippedFiles = res.SkippedFiles
	c.snap = &snap
	c.publishGauges(snap)
	return snap, nil
}

// Invalidate discards the cached snapshot so the next Metrics call
// recomputes. Cleanup jobs call this after freeing storage so the freed
// capacity is observed immediately rather than after TTL expiry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
	slog.Debug("usage cache invalidated")
}

// Cached returns the cached snapshot without triggering a probe, and
// whether one exists.
func (c *Cache) Cached() (model.UsageSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return model.UsageSnapshot{}, false
	}
	return *c.snap, true
}

func (c *Cache) publishGauges(snap model.UsageSnapshot) {
	c.metrics.UsageBytes.Set(float64(snap.TotalBytes))
	c.metrics.UsageLimitBytes.Set(snap.LimitGB * model.BytesPerGB)
}
