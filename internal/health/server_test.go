package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	agenterrors "github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/gate"
	"github.com/captionhq/storage-quota/internal/monitor"
	"github.com/captionhq/storage-quota/internal/observability"
	"github.com/captionhq/storage-quota/internal/store"
	"github.com/captionhq/storage-quota/pkg/model"
)

// --- Mock implementations ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeUsage struct {
	mu          sync.Mutex
	snap        model.UsageSnapshot
	invalidated bool
}

func (f *fakeUsage) Metrics(ctx context.Context) (model.UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeUsage) Invalidate() {
	f.mu.Lock()
	f.invalidated = true
	f.mu.Unlock()
}

type stubProvider struct {
	limit, warning float64
	enabled        bool
}

func (s *stubProvider) MaxStorageGB() float64       { return s.limit }
func (s *stubProvider) WarningThresholdGB() float64 { return s.warning }
func (s *stubProvider) MonitoringEnabled() bool     { return s.enabled }
func (s *stubProvider) Validate() error             { return nil }

type pingFailStore struct {
	store.Store
	fail bool
}

func (p *pingFailStore) Ping(ctx context.Context) error {
	if p.fail {
		return agenterrors.New(agenterrors.ErrStoreUnavailable, "store", "redis ping failed", nil)
	}
	return p.Store.Ping(ctx)
}

type fixture struct {
	server *Server
	gate   *gate.Gate
	usage  *fakeUsage
	store  *pingFailStore
	clock  *fakeClock
}

// newTestFixture wires real gate and monitor instances over a memory
// store. Monitoring is disabled so the monitor health check stays green
// without a running loop.
func newTestFixture(t *testing.T, enableDebug bool) *fixture {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	usage := &fakeUsage{snap: model.NewUsageSnapshot(int64(5*model.BytesPerGB), 10, 8, clk.Now())}
	provider := &stubProvider{limit: 10, warning: 8, enabled: false}
	st := &pingFailStore{Store: store.NewMemoryStore(clk)}
	metrics := observability.NewMetrics()
	collector := agenterrors.NewErrorCollector(clk)

	g := gate.New(usage, st, provider, clk, metrics, collector)
	m := monitor.New(usage, st, provider, clk, metrics, collector, monitor.Options{})

	srv := NewServer(0, metrics, g, m, usage, st, enableDebug)
	return &fixture{server: srv, gate: g, usage: usage, store: st, clock: clk}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	f.server.httpServer.Handler.ServeHTTP(w, req)
	return w.Result()
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
}

// --- Tests ---

func TestHealthzHealthy(t *testing.T) {
	f := newTestFixture(t, false)
	resp := f.do(t, http.MethodGet, "/healthz", "")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var hs model.HealthStatus
	decode(t, resp, &hs)
	if !hs.Healthy {
		t.Fatalf("expected healthy, got %+v", hs)
	}
	if _, ok := hs.Components["store"]; !ok {
		t.Fatal("expected store component in health report")
	}
	if _, ok := hs.Components["monitor"]; !ok {
		t.Fatal("expected monitor component in health report")
	}
}

func TestHealthzUnhealthyStore(t *testing.T) {
	f := newTestFixture(t, false)
	f.store.fail = true
	resp := f.do(t, http.MethodGet, "/healthz", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	f := newTestFixture(t, false)

	resp := f.do(t, http.MethodGet, "/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]bool
	decode(t, resp, &result)
	if !result["ready"] {
		t.Fatal("expected ready=true")
	}

	f.store.fail = true
	resp = f.do(t, http.MethodGet, "/readyz", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing store, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newTestFixture(t, false)
	resp := f.do(t, http.MethodGet, "/metrics", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "quotad_") {
		t.Fatal("expected Prometheus metrics containing quotad_ prefix")
	}
}

func TestBlockAndUnblock(t *testing.T) {
	f := newTestFixture(t, false)
	ctx := context.Background()

	resp := f.do(t, http.MethodPost, "/api/block", `{"reason":"maintenance window"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("block: expected 200, got %d", resp.StatusCode)
	}
	if !f.gate.IsBlocked(ctx) {
		t.Fatal("gate should be blocked after /api/block")
	}

	var status map[string]any
	resp = f.do(t, http.MethodGet, "/api/status", "")
	decode(t, resp, &status)
	if status["blocked"] != true {
		t.Errorf("status blocked = %v", status["blocked"])
	}
	if status["block_reason"] != "maintenance window" {
		t.Errorf("status block_reason = %v", status["block_reason"])
	}

	resp = f.do(t, http.MethodPost, "/api/unblock", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unblock: expected 200, got %d", resp.StatusCode)
	}
	if f.gate.IsBlocked(ctx) {
		t.Fatal("gate should be unblocked after /api/unblock")
	}
}

func TestBlockRequiresReason(t *testing.T) {
	f := newTestFixture(t, false)
	resp := f.do(t, http.MethodPost, "/api/block", `{}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBlockRejectsGet(t *testing.T) {
	f := newTestFixture(t, false)
	resp := f.do(t, http.MethodGet, "/api/block", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestNotificationsListAndAcknowledge(t *testing.T) {
	f := newTestFixture(t, false)
	ctx := context.Background()

	// Empty list is a JSON array, not null.
	resp := f.do(t, http.MethodGet, "/api/notifications", "")
	var list []*model.WarningNotification
	decode(t, resp, &list)
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty array, got %v", list)
	}

	snap := model.NewUsageSnapshot(int64(8.5*model.BytesPerGB), 10, 8, f.clock.Now())
	n := model.NewWarningNotification(model.SeverityWarning, snap, "above warning threshold", f.clock.Now())
	if err := f.store.PutNotification(ctx, n, time.Hour); err != nil {
		t.Fatal(err)
	}

	resp = f.do(t, http.MethodGet, "/api/notifications", "")
	decode(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}

	resp = f.do(t, http.MethodPost, "/api/notifications/acknowledge",
		`{"id":"`+n.ID+`","by":"ops@captionhq"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge: expected 200, got %d", resp.StatusCode)
	}

	got, err := f.store.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Acknowledged || got.AcknowledgedBy != "ops@captionhq" {
		t.Fatalf("notification not acknowledged: %+v", got)
	}
}

func TestAcknowledgeUnknownID(t *testing.T) {
	f := newTestFixture(t, false)
	resp := f.do(t, http.MethodPost, "/api/notifications/acknowledge", `{"id":"missing","by":"ops"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInvalidateCache(t *testing.T) {
	f := newTestFixture(t, false)
	resp := f.do(t, http.MethodPost, "/api/cache/invalidate", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !f.usage.invalidated {
		t.Fatal("usage cache was not invalidated")
	}
}

func TestStatisticsGetAndReset(t *testing.T) {
	f := newTestFixture(t, false)
	ctx := context.Background()

	if _, err := f.gate.CheckBeforeOperation(ctx); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodGet, "/api/statistics", "")
	var stats model.EnforcementStatistics
	decode(t, resp, &stats)
	if stats.TotalChecks != 1 {
		t.Fatalf("TotalChecks = %d, want 1", stats.TotalChecks)
	}

	resp = f.do(t, http.MethodPost, "/api/statistics/reset", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/statistics", "")
	decode(t, resp, &stats)
	if stats.TotalChecks != 0 {
		t.Fatalf("TotalChecks after reset = %d, want 0", stats.TotalChecks)
	}
}

func TestDebugBlockingNoState(t *testing.T) {
	f := newTestFixture(t, true)
	resp := f.do(t, http.MethodGet, "/debug/blocking", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 with no blocking state, got %d", resp.StatusCode)
	}
}

func TestDebugUsage(t *testing.T) {
	f := newTestFixture(t, true)
	resp := f.do(t, http.MethodGet, "/debug/usage", "")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap model.UsageSnapshot
	decode(t, resp, &snap)
	if snap.TotalGB != 5 {
		t.Fatalf("TotalGB = %v, want 5", snap.TotalGB)
	}
}

func TestDebugEndpointsDisabled(t *testing.T) {
	f := newTestFixture(t, false)

	for _, path := range []string{"/debug/usage", "/debug/blocking", "/debug/events"} {
		resp := f.do(t, http.MethodGet, path, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 for %s when debug disabled, got %d", path, resp.StatusCode)
		}
	}

	// /healthz should still work
	resp := f.do(t, http.MethodGet, "/healthz", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /healthz, got %d", resp.StatusCode)
	}
}

func TestServerStartStop(t *testing.T) {
	f := newTestFixture(t, false)

	if err := f.server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	// Give server a moment to start
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + f.server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("failed to reach server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.server.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}
}
