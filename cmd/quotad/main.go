package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/captionhq/storage-quota/internal/archive"
	"github.com/captionhq/storage-quota/internal/config"
	"github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/gate"
	"github.com/captionhq/storage-quota/internal/health"
	"github.com/captionhq/storage-quota/internal/monitor"
	"github.com/captionhq/storage-quota/internal/notify"
	"github.com/captionhq/storage-quota/internal/observability"
	"github.com/captionhq/storage-quota/internal/store"
	"github.com/captionhq/storage-quota/internal/usage"
)

func main() {
	// 1. Load and validate config.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("quotad starting",
		"instance_id", cfg.InstanceID,
		"storage_root", cfg.StorageRoot,
		"max_storage_gb", cfg.MaxStorageGB,
		"tick_interval", cfg.TickInterval,
		"redis_enabled", cfg.RedisEnabled,
	)

	// 3. Shared infrastructure.
	clock := errors.RealClock{}
	metrics := observability.NewMetrics()
	errCollector := errors.NewErrorCollector(clock)
	provider := config.NewEnvProvider(cfg)

	// 4. Shared store: Redis, or the in-process store in explicit
	// degraded mode.
	var st store.Store
	if cfg.RedisEnabled {
		client := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		st = store.NewRedisStore(client, cfg.KeyPrefix, metrics, errCollector)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := st.Ping(pingCtx); err != nil {
			slog.Warn("redis not reachable at startup, continuing; gate fails closed until it recovers",
				"addr", cfg.RedisAddr, "error", err)
		}
		pingCancel()
	} else {
		slog.Warn("redis disabled, using in-process store; blocking state is not shared across processes")
		st = store.NewMemoryStore(clock)
	}

	// 5. Usage probe and cache.
	prober := usage.NewProbe(cfg.StorageRoot, cfg.ProbeRetryDelay, metrics, errCollector)
	cache := usage.NewCache(prober, provider, cfg.CacheTTL, clock, metrics)

	// 6. Gate and monitor.
	quotaGate := gate.New(cache, st, provider, clock, metrics, errCollector)

	mon := monitor.New(cache, st, provider, clock, metrics, errCollector, monitor.Options{
		TickInterval:          cfg.TickInterval,
		PurgeInterval:         cfg.PurgeInterval,
		EventRetention:        cfg.EventRetention,
		NotificationRetention: cfg.NotificationRetention,
		StopTimeout:           cfg.StopTimeout,
	})
	mon.AddSink(notify.NewLogSink())
	if cfg.WebhookURL != "" {
		mon.AddSink(notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout))
		slog.Info("webhook notification sink enabled", "url", cfg.WebhookURL)
	}
	if cfg.ArchiveDir != "" {
		mon.SetArchiver(archive.New(cfg.ArchiveDir, clock, errCollector))
		slog.Info("event archival enabled", "dir", cfg.ArchiveDir)
	}

	if err := mon.Start(ctx); err != nil {
		slog.Error("failed to start threshold monitor", "error", err)
		os.Exit(1)
	}

	// 7. Health and admin server.
	healthSrv := health.NewServer(cfg.HealthPort, metrics, quotaGate, mon, cache, st, cfg.DebugEndpoints)
	if err := healthSrv.Start(); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}
	slog.Info("health server listening", "addr", healthSrv.Addr())

	<-ctx.Done()

	// 8. Graceful shutdown: monitor first so no new events race the
	// server teardown, then the HTTP surface, then the store.
	if err := mon.Stop(); err != nil {
		slog.Error("threshold monitor shutdown error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	if err := st.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("quotad stopped")
}
