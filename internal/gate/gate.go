package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/captionhq/storage-quota/internal/config"
	"github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/observability"
	"github.com/captionhq/storage-quota/internal/store"
	"github.com/captionhq/storage-quota/pkg/model"
)

// BlockReasonLimitExceeded is the reason written on automatic blocks.
const BlockReasonLimitExceeded = "storage limit exceeded"

// blockReasonUnavailable is returned by BlockReason when the store cannot
// be read; the reason is advisory, so the failure is not propagated.
const blockReasonUnavailable = "error retrieving reason"

// UsageSource supplies usage snapshots. Implemented by usage.Cache.
type UsageSource interface {
	Metrics(ctx context.Context) (model.UsageSnapshot, error)
}

// Gate is the enforcement state machine consulted before every protected
// operation. The persisted blocking record in the shared store is the
// single source of truth across processes; the in-process mutex only
// serializes local read-modify-write sequences against the background
// monitor.
type Gate struct {
	usage     UsageSource
	store     store.Store
	provider  config.Provider
	clock     errors.Clock
	metrics   *observability.Metrics
	collector *errors.ErrorCollector

	mu sync.Mutex
}

// New creates a Gate.
func New(usage UsageSource, st store.Store, provider config.Provider, clock errors.Clock, metrics *observability.Metrics, collector *errors.ErrorCollector) *Gate {
	return &Gate{
		usage:     usage,
		store:     st,
		provider:  provider,
		clock:     clock,
		metrics:   metrics,
		collector: collector,
	}
}

// CheckBeforeOperation is the primary gate, called immediately before
// every protected operation. A blocked outcome is an expected result, not
// an error; a non-nil error means the shared store could not be consulted
// and the caller should treat the operation as retryable.
func (g *Gate) CheckBeforeOperation(ctx context.Context) (model.CheckResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Probe failures are absorbed by the cache's stale-or-fail-safe
	// policy: the snapshot is always usable and errs toward denial.
	snap, degraded := g.usage.Metrics(ctx)
	if degraded != nil {
		slog.Warn("gate check using degraded usage data", "estimated", snap.Estimated, "error", degraded)
	}

	state, err := g.store.GetBlockingState(ctx)
	if err != nil {
		g.metrics.ChecksTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("gate check: %w", err)
	}

	now := g.clock.Now()

	if snap.LimitExceeded {
		// Re-deriving an already-blocked state is harmless: every
		// writer produces the same record from the same inputs.
		newState := model.NewBlockingState(BlockReasonLimitExceeded, snap, now)
		if state != nil && state.IsBlocked {
			newState.Reason = state.Reason
			newState.BlockedAt = state.BlockedAt
			newState.UsageGBAtBlock = state.UsageGBAtBlock
		}
		if err := g.store.SetBlockingState(ctx, newState); err != nil {
			g.metrics.ChecksTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("gate check: %w", err)
		}

		if state == nil || !state.IsBlocked {
			g.metrics.BlocksEnforcedTotal.Inc()
			slog.Warn("storage limit exceeded, blocking caption generation",
				"usage_gb", snap.TotalGB,
				"limit_gb", snap.LimitGB,
				"usage_percent", snap.UsagePercent,
			)
		}
		g.metrics.Blocked.Set(1)
		g.metrics.ChecksTotal.WithLabelValues(string(model.ResultBlockedLimitExceeded)).Inc()
		g.recordCheck(ctx, snap, true, state == nil || !state.IsBlocked, false)
		return model.ResultBlockedLimitExceeded, nil
	}

	if state != nil && state.IsBlocked {
		// Automatic unblock: capacity recovered since the block was
		// written. Triggered only by this check observing the recovery.
		if err := g.store.ClearBlockingState(ctx); err != nil {
			g.metrics.ChecksTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("gate check: %w", err)
		}
		g.metrics.AutomaticUnblocksTotal.Inc()
		slog.Info("storage usage back under limit, unblocking caption generation",
			"usage_gb", snap.TotalGB,
			"limit_gb", snap.LimitGB,
		)
		g.metrics.Blocked.Set(0)
		g.metrics.ChecksTotal.WithLabelValues(string(model.ResultAllowed)).Inc()
		g.recordCheck(ctx, snap, false, false, true)
		return model.ResultAllowed, nil
	}

	// Usage between warning threshold and limit does not block; the
	// threshold monitor surfaces the warning.
	g.metrics.Blocked.Set(0)
	g.metrics.ChecksTotal.WithLabelValues(string(model.ResultAllowed)).Inc()
	g.recordCheck(ctx, snap, false, false, false)
	return model.ResultAllowed, nil
}

// Block is the administrative override: it writes the persisted blocking
// record directly, independent of usage.
func (g *Gate) Block(ctx context.Context, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, _ := g.usage.Metrics(ctx)
	state := model.NewBlockingState(reason, snap, g.clock.Now())
	if err := g.store.SetBlockingState(ctx, state); err != nil {
		return fmt.Errorf("manual block: %w", err)
	}

	g.metrics.Blocked.Set(1)
	slog.Warn("caption generation manually blocked", "reason", reason)
	return nil
}

// Unblock clears the persisted blocking record regardless of usage.
func (g *Gate) Unblock(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.ClearBlockingState(ctx); err != nil {
		return fmt.Errorf("manual unblock: %w", err)
	}

	g.metrics.Blocked.Set(0)
	slog.Info("caption generation manually unblocked")
	return nil
}

// IsBlocked reads the persisted state only; no probe is involved. On a
// store failure it fails closed and reports blocked, because the caller
// cannot safely assume capacity is fine.
func (g *Gate) IsBlocked(ctx context.Context) bool {
	state, err := g.store.GetBlockingState(ctx)
	if err != nil {
		slog.Error("cannot read blocking state, failing closed", "error", err)
		return true
	}
	return state != nil && state.IsBlocked
}

// BlockReason returns the current block reason, or the empty string when
// not blocked. The reason is advisory, so a store failure yields a fixed
// placeholder instead of an error.
func (g *Gate) BlockReason(ctx context.Context) string {
	state, err := g.store.GetBlockingState(ctx)
	if err != nil {
		slog.Error("cannot read block reason", "error", err)
		return blockReasonUnavailable
	}
	if state == nil || !state.IsBlocked {
		return ""
	}
	return state.Reason
}

// TriggerLimitReachedActions runs the check logic without an in-flight
// operation. Schedulers use it to converge the persisted state promptly.
func (g *Gate) TriggerLimitReachedActions(ctx context.Context) error {
	result, err := g.CheckBeforeOperation(ctx)
	if err != nil {
		return err
	}
	slog.Debug("limit-reached actions completed", "result", result)
	return nil
}

// HealthCheck aggregates store connectivity, configuration validity, and
// usage-probe validity.
func (g *Gate) HealthCheck(ctx context.Context) model.HealthStatus {
	components := make(map[string]model.ComponentHealth)

	if err := g.store.Ping(ctx); err != nil {
		components["store"] = model.ComponentHealth{Healthy: false, Detail: err.Error()}
	} else {
		components["store"] = model.ComponentHealth{Healthy: true}
	}

	if err := g.provider.Validate(); err != nil {
		components["configuration"] = model.ComponentHealth{Healthy: false, Detail: err.Error()}
	} else {
		components["configuration"] = model.ComponentHealth{Healthy: true}
	}

	snap, err := g.usage.Metrics(ctx)
	switch {
	case err != nil:
		components["usage"] = model.ComponentHealth{Healthy: false, Detail: err.Error()}
	case snap.Estimated:
		components["usage"] = model.ComponentHealth{Healthy: false, Detail: "serving estimated fail-safe usage"}
	default:
		components["usage"] = model.ComponentHealth{Healthy: true}
	}

	return model.NewHealthStatus(components)
}

// Statistics returns the persisted enforcement statistics, zero-valued if
// never written.
func (g *Gate) Statistics(ctx context.Context) (model.EnforcementStatistics, error) {
	stats, err := g.store.GetStatistics(ctx)
	if err != nil {
		return model.EnforcementStatistics{}, err
	}
	if stats == nil {
		return model.EnforcementStatistics{}, nil
	}
	return *stats, nil
}

// ResetStatistics zeroes the persisted counters.
func (g *Gate) ResetStatistics(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := model.EnforcementStatistics{ResetAt: g.clock.Now()}
	if err := g.store.SetStatistics(ctx, stats); err != nil {
		return fmt.Errorf("reset statistics: %w", err)
	}
	slog.Info("enforcement statistics reset")
	return nil
}

// recordCheck updates the persisted statistics record. Statistics are
// best-effort observability data: a store failure here is logged, never
// surfaced to the caller whose check already succeeded.
func (g *Gate) recordCheck(ctx context.Context, snap model.UsageSnapshot, blocked, newBlock, autoUnblock bool) {
	stats, err := g.store.GetStatistics(ctx)
	if err != nil {
		slog.Warn("cannot load statistics for update", "error", err)
		return
	}
	if stats == nil {
		stats = &model.EnforcementStatistics{}
	}

	stats.TotalChecks++
	if newBlock {
		stats.BlocksEnforced++
	}
	if autoUnblock {
		stats.AutomaticUnblocks++
	}
	stats.CurrentlyBlocked = blocked
	stats.CurrentUsageGB = snap.TotalGB
	stats.LimitGB = snap.LimitGB
	stats.LastCheckAt = g.clock.Now()

	if err := g.store.SetStatistics(ctx, *stats); err != nil {
		slog.Warn("cannot persist statistics", "error", err)
	}
}
