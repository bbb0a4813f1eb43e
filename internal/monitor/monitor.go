// Package monitor runs the background threshold loop: it polls the usage
// cache, detects rising and falling edges of the warning and limit flags,
// records audit events, creates admin notifications, and purges expired
// records.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/captionhq/storage-quota/internal/config"
	agenterrors "github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/notify"
	"github.com/captionhq/storage-quota/internal/observability"
	"github.com/captionhq/storage-quota/internal/store"
	"github.com/captionhq/storage-quota/pkg/model"
)

// UsageSource supplies usage snapshots. Implemented by usage.Cache.
type UsageSource interface {
	Metrics(ctx context.Context) (model.UsageSnapshot, error)
}

// Archiver receives purged events before they are discarded. Implemented
// by archive.Archiver.
type Archiver interface {
	Archive(events []model.WarningEvent) error
}

// Options are the monitor's timing knobs. Zero values take defaults.
type Options struct {
	TickInterval          time.Duration // default 5m
	PurgeInterval         time.Duration // default 1h
	EventRetention        time.Duration // default 7d
	NotificationRetention time.Duration // default 3d
	StopTimeout           time.Duration // default 10s
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 5 * time.Minute
	}
	if o.PurgeInterval <= 0 {
		o.PurgeInterval = time.Hour
	}
	if o.EventRetention <= 0 {
		o.EventRetention = 7 * 24 * time.Hour
	}
	if o.NotificationRetention <= 0 {
		o.NotificationRetention = 3 * 24 * time.Hour
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	return o
}

// Status is the process-local monitor state exposed for observability.
type Status struct {
	Running             bool                 `json:"running"`
	StoppedUngracefully bool                 `json:"stopped_ungracefully"`
	WarningActive       bool                 `json:"warning_active"`
	LimitActive         bool                 `json:"limit_active"`
	TickInterval        time.Duration        `json:"tick_interval"`
	LastTickAt          time.Time            `json:"last_tick_at"`
	LastSnapshot        *model.UsageSnapshot `json:"last_snapshot,omitempty"`
	ActiveErrorCodes    []string             `json:"active_error_codes"`
}

// Monitor is the threshold monitor. One instance per process; Start and
// Stop bracket a single background goroutine.
type Monitor struct {
	usage     UsageSource
	store     store.Store
	provider  config.Provider
	clock     agenterrors.Clock
	metrics   *observability.Metrics
	collector *agenterrors.ErrorCollector
	escalator *Escalator
	opts      Options

	sinks    []notify.Sink
	archiver Archiver

	mu                  sync.Mutex
	running             bool
	stoppedUngracefully bool
	cancel              context.CancelFunc
	done                chan struct{}

	// Edge-detection state, owned by the loop goroutine between Start
	// and Stop, read under mu by status queries.
	warningActive bool
	limitActive   bool
	limitGB       float64
	warningGB     float64
	limitsKnown   bool
	lastTickAt    time.Time
	lastSnapshot  *model.UsageSnapshot
}

// New creates a Monitor. Sinks and an archiver are attached afterwards
// via AddSink and SetArchiver, before Start.
func New(
	usage UsageSource,
	st store.Store,
	provider config.Provider,
	clock agenterrors.Clock,
	metrics *observability.Metrics,
	collector *agenterrors.ErrorCollector,
	opts Options,
) *Monitor {
	return &Monitor{
		usage:     usage,
		store:     st,
		provider:  provider,
		clock:     clock,
		metrics:   metrics,
		collector: collector,
		escalator: NewEscalator(clock),
		opts:      opts.withDefaults(),
	}
}

// AddSink registers a notification sink. Not safe to call after Start.
func (m *Monitor) AddSink(s notify.Sink) {
	m.sinks = append(m.sinks, s)
}

// SetArchiver attaches the purge archiver. Not safe to call after Start.
func (m *Monitor) SetArchiver(a Archiver) {
	m.archiver = a
}

// Escalator returns the monitor's escalation bookkeeping for use by
// external error-handling policy.
func (m *Monitor) Escalator() *Escalator {
	return m.escalator
}

// Start launches the background loop. Starting a running monitor is a
// logged no-op. When monitoring is disabled by configuration the monitor
// stays stopped.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		slog.Warn("threshold monitor already running")
		return nil
	}
	if !m.provider.MonitoringEnabled() {
		slog.Info("threshold monitoring disabled by configuration")
		return nil
	}

	m.applyStoredConfig(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.stoppedUngracefully = false

	m.recordEvent(ctx, model.EventMonitoringStarted, model.UsageSnapshot{}, "background monitoring started", nil)
	slog.Info("threshold monitor started",
		"tick_interval", m.opts.TickInterval,
		"event_retention", m.opts.EventRetention,
		"notification_retention", m.opts.NotificationRetention,
	)

	go m.run(loopCtx)
	return nil
}

// Stop signals the loop and joins it with a bounded timeout. On timeout
// the monitor is marked unhealthy rather than blocking shutdown forever.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()

	select {
	case <-done:
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		slog.Info("threshold monitor stopped")
		return nil
	case <-time.After(m.opts.StopTimeout):
		m.mu.Lock()
		m.running = false
		m.stoppedUngracefully = true
		m.mu.Unlock()

		err := agenterrors.New(agenterrors.ErrMonitorStopTimeout, "monitor",
			fmt.Sprintf("monitor loop did not stop within %s", m.opts.StopTimeout), nil)
		m.collector.Report(*err)
		slog.Error("threshold monitor did not stop gracefully", "timeout", m.opts.StopTimeout)
		return err
	}
}

// applyStoredConfig reconciles the monitor's timing knobs with the
// shared store: a stored record overrides local defaults so a fleet can
// be retuned centrally, and absence seeds the store with this process's
// values. Best-effort on store failure.
func (m *Monitor) applyStoredConfig(ctx context.Context) {
	stored, err := m.store.GetMonitorConfig(ctx)
	if err != nil {
		slog.Warn("cannot read stored monitor config, using local values", "error", err)
		return
	}

	if stored == nil {
		cfg := model.MonitorConfig{
			TickIntervalSeconds:        int(m.opts.TickInterval / time.Second),
			EventRetentionHours:        int(m.opts.EventRetention / time.Hour),
			NotificationRetentionHours: int(m.opts.NotificationRetention / time.Hour),
		}
		if err := m.store.SetMonitorConfig(ctx, cfg); err != nil {
			slog.Warn("cannot seed stored monitor config", "error", err)
		}
		return
	}

	if stored.TickIntervalSeconds > 0 {
		m.opts.TickInterval = time.Duration(stored.TickIntervalSeconds) * time.Second
	}
	if stored.EventRetentionHours > 0 {
		m.opts.EventRetention = time.Duration(stored.EventRetentionHours) * time.Hour
	}
	if stored.NotificationRetentionHours > 0 {
		m.opts.NotificationRetention = time.Duration(stored.NotificationRetentionHours) * time.Hour
	}
	slog.Info("applied stored monitor config",
		"tick_interval", m.opts.TickInterval,
		"event_retention", m.opts.EventRetention,
		"notification_retention", m.opts.NotificationRetention,
	)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()
	purgeTicker := time.NewTicker(m.opts.PurgeInterval)
	defer purgeTicker.Stop()

	// First tick immediately so a restart re-observes state without
	// waiting a full interval.
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			// The loop context is gone; record the stop on a short
			// detached context.
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			m.recordEvent(stopCtx, model.EventMonitoringStopped, m.snapshotOrZero(), "background monitoring stopped", nil)
			cancel()
			return
		case <-ticker.C:
			m.tick(ctx)
		case <-purgeTicker.C:
			m.purge(ctx)
		}
	}
}

// tick is one observation cycle: fetch a snapshot, detect configuration
// changes and flag edges, and record the outcome.
func (m *Monitor) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		m.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	snap, degraded := m.usage.Metrics(ctx)
	if degraded != nil {
		slog.Warn("monitor tick using degraded usage data", "estimated", snap.Estimated, "error", degraded)
		m.recordEvent(ctx, model.EventMonitoringError, snap,
			fmt.Sprintf("usage probe degraded: %v", degraded), nil)
	}

	m.detectConfigChange(ctx, snap)

	m.mu.Lock()
	prevWarning, prevLimit := m.warningActive, m.limitActive
	m.warningActive = snap.WarningExceeded
	m.limitActive = snap.LimitExceeded
	m.lastTickAt = m.clock.Now()
	s := snap
	m.lastSnapshot = &s
	m.mu.Unlock()

	limitRose := snap.LimitExceeded && !prevLimit
	limitFell := !snap.LimitExceeded && prevLimit
	warningRose := snap.WarningExceeded && !prevWarning
	warningFell := !snap.WarningExceeded && prevWarning

	if warningRose {
		msg := fmt.Sprintf("storage usage %.2f GB exceeded warning threshold %.2f GB (%.1f%%)",
			snap.TotalGB, snap.WarningGB, snap.UsagePercent)
		m.recordEvent(ctx, model.EventThresholdExceeded, snap, msg, nil)
		// When the limit edge rises in the same tick only the critical
		// notification goes out; one alert per cause.
		if !limitRose {
			m.notifyAdmins(ctx, model.SeverityWarning, snap, msg)
		}
	}
	if warningFell {
		m.recordEvent(ctx, model.EventThresholdCleared, snap,
			fmt.Sprintf("storage usage %.2f GB back under warning threshold %.2f GB", snap.TotalGB, snap.WarningGB), nil)
	}

	if limitRose {
		msg := fmt.Sprintf("storage usage %.2f GB exceeded limit %.2f GB (%.1f%%)",
			snap.TotalGB, snap.LimitGB, snap.UsagePercent)
		m.recordEvent(ctx, model.EventLimitExceeded, snap, msg, nil)
		m.notifyAdmins(ctx, model.SeverityCritical, snap, msg)
	}
	if limitFell {
		m.recordEvent(ctx, model.EventLimitCleared, snap,
			fmt.Sprintf("storage usage %.2f GB back under limit %.2f GB", snap.TotalGB, snap.LimitGB), nil)
	}

	// Stable state across ticks produces the low-priority heartbeat
	// event only; re-alerting is the notification's job exactly once
	// per rising edge.
	if !warningRose && !warningFell && !limitRose && !limitFell {
		m.recordEvent(ctx, model.EventPeriodicCheck, snap, "periodic check", nil)
		slog.Debug("periodic check",
			"usage_gb", snap.TotalGB,
			"limit_gb", snap.LimitGB,
			"usage_percent", snap.UsagePercent,
		)
	}
}

// detectConfigChange compares the provider's current limit and warning
// against the previously observed values and records a change event.
func (m *Monitor) detectConfigChange(ctx context.Context, snap model.UsageSnapshot) {
	limit := m.provider.MaxStorageGB()
	warning := m.provider.WarningThresholdGB()

	m.mu.Lock()
	known := m.limitsKnown
	oldLimit, oldWarning := m.limitGB, m.warningGB
	m.limitGB, m.warningGB = limit, warning
	m.limitsKnown = true
	m.mu.Unlock()

	if !known || (limit == oldLimit && warning == oldWarning) {
		return
	}

	slog.Info("quota configuration changed",
		"old_limit_gb", oldLimit, "new_limit_gb", limit,
		"old_warning_gb", oldWarning, "new_warning_gb", warning,
	)
	m.recordEvent(ctx, model.EventConfigChanged, snap, "quota configuration changed", map[string]any{
		"old_limit_gb":   oldLimit,
		"new_limit_gb":   limit,
		"old_warning_gb": oldWarning,
		"new_warning_gb": warning,
	})
}

// recordEvent appends an audit event with the retention TTL. Events are
// best-effort observability data; a store failure is logged, not raised.
func (m *Monitor) recordEvent(ctx context.Context, typ model.EventType, snap model.UsageSnapshot, message string, additional map[string]any) {
	ev := model.NewWarningEvent(typ, snap, message, m.clock.Now())
	ev.AdditionalData = additional

	if err := m.store.AppendEvent(ctx, ev, m.opts.EventRetention); err != nil {
		slog.Warn("cannot record audit event", "type", typ, "error", err)
		return
	}
	m.metrics.EventsEmittedTotal.WithLabelValues(string(typ)).Inc()
}

// notifyAdmins creates one notification, persists it, and fans it out to
// every sink. Sink panics and errors are contained here; the loop never
// dies for a bad sink.
func (m *Monitor) notifyAdmins(ctx context.Context, severity model.Severity, snap model.UsageSnapshot, message string) {
	n := model.NewWarningNotification(severity, snap, message, m.clock.Now())

	if err := m.store.PutNotification(ctx, n, m.opts.NotificationRetention); err != nil {
		slog.Error("cannot persist notification", "severity", severity, "error", err)
		return
	}
	m.metrics.NotificationsCreatedTotal.WithLabelValues(string(severity)).Inc()

	for _, sink := range m.sinks {
		m.deliver(ctx, sink, n)
	}
}

func (m *Monitor) deliver(ctx context.Context, sink notify.Sink, n *model.WarningNotification) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panicked: %v", r)
			}
		}()
		err = sink.Notify(ctx, n)
	}()

	snap := m.snapshotOrZero()
	if err != nil {
		m.metrics.SinkFailuresTotal.Inc()
		slog.Error("notification sink failed", "sink", sink.Name(), "notification_id", n.ID, "error", err)
		m.collector.Report(*agenterrors.New(agenterrors.ErrCallbackFailed, "monitor",
			fmt.Sprintf("sink %s failed for notification %s: %v", sink.Name(), n.ID, err), err))
		m.recordEvent(ctx, model.EventNotificationFailed, snap,
			fmt.Sprintf("sink %s failed to deliver notification %s", sink.Name(), n.ID),
			map[string]any{"sink": sink.Name(), "notification_id": n.ID, "error": err.Error()})
		return
	}
	m.recordEvent(ctx, model.EventNotificationSent, snap,
		fmt.Sprintf("sink %s delivered notification %s", sink.Name(), n.ID),
		map[string]any{"sink": sink.Name(), "notification_id": n.ID})
}

// purge drops events and notifications past their retention horizons.
// Purged events go to the archiver first when one is attached.
func (m *Monitor) purge(ctx context.Context) {
	now := m.clock.Now()

	events, err := m.store.PurgeEventsBefore(ctx, now.Add(-m.opts.EventRetention))
	if err != nil {
		slog.Warn("event purge failed", "error", err)
	} else if len(events) > 0 {
		if m.archiver != nil {
			if err := m.archiver.Archive(events); err != nil {
				// Archival failure never blocks the purge.
				slog.Warn("archiving purged events failed", "count", len(events), "error", err)
			}
		}
		m.metrics.PurgedRecordsTotal.WithLabelValues("events").Add(float64(len(events)))
		slog.Info("purged expired events", "count", len(events))
	}

	purged, err := m.store.PurgeNotificationsBefore(ctx, now.Add(-m.opts.NotificationRetention))
	if err != nil {
		slog.Warn("notification purge failed", "error", err)
	} else if purged > 0 {
		m.metrics.PurgedRecordsTotal.WithLabelValues("notifications").Add(float64(purged))
		slog.Info("purged expired notifications", "count", purged)
	}
}

// AcknowledgeNotification marks a stored notification acknowledged. It
// is independent of the monitor loop and works while stopped.
func (m *Monitor) AcknowledgeNotification(ctx context.Context, id, by string) error {
	n, err := m.store.GetNotification(ctx, id)
	if err != nil {
		return fmt.Errorf("acknowledge notification %s: %w", id, err)
	}
	if n == nil {
		return fmt.Errorf("notification %s not found", id)
	}

	now := m.clock.Now()
	n.Acknowledge(by, now)

	// Keep the original expiry instead of restarting the retention
	// window on acknowledge.
	remaining := n.CreatedAt.Add(m.opts.NotificationRetention).Sub(now)
	if remaining <= 0 {
		return fmt.Errorf("notification %s not found", id)
	}
	if err := m.store.PutNotification(ctx, n, remaining); err != nil {
		return fmt.Errorf("acknowledge notification %s: %w", id, err)
	}

	slog.Info("notification acknowledged", "id", id, "by", by)
	return nil
}

// MonitoringStatus returns the process-local monitor state.
func (m *Monitor) MonitoringStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap *model.UsageSnapshot
	if m.lastSnapshot != nil {
		s := *m.lastSnapshot
		snap = &s
	}
	return Status{
		Running:             m.running,
		StoppedUngracefully: m.stoppedUngracefully,
		WarningActive:       m.warningActive,
		LimitActive:         m.limitActive,
		TickInterval:        m.opts.TickInterval,
		LastTickAt:          m.lastTickAt,
		LastSnapshot:        snap,
		ActiveErrorCodes:    m.collector.GetActiveErrorCodes(),
	}
}

// HealthCheck reports monitor liveness and store connectivity.
func (m *Monitor) HealthCheck(ctx context.Context) model.HealthStatus {
	components := make(map[string]model.ComponentHealth)

	m.mu.Lock()
	running, ungraceful := m.running, m.stoppedUngracefully
	m.mu.Unlock()

	switch {
	case ungraceful:
		components["monitor"] = model.ComponentHealth{Healthy: false, Detail: "monitor loop did not stop gracefully"}
	case !running && m.provider.MonitoringEnabled():
		components["monitor"] = model.ComponentHealth{Healthy: false, Detail: "monitor loop not running"}
	default:
		components["monitor"] = model.ComponentHealth{Healthy: true}
	}

	if err := m.store.Ping(ctx); err != nil {
		components["store"] = model.ComponentHealth{Healthy: false, Detail: err.Error()}
	} else {
		components["store"] = model.ComponentHealth{Healthy: true}
	}

	return model.NewHealthStatus(components)
}

func (m *Monitor) snapshotOrZero() model.UsageSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSnapshot != nil {
		return *m.lastSnapshot
	}
	return model.UsageSnapshot{}
}
