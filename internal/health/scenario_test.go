package health

import (
	"context"
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

type countingSink struct {
	mu            sync.Mutex
	notifications []*model.WarningNotification
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Notify(ctx context.Context, n *model.WarningNotification) error {
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.mu.Unlock()
	return nil
}

func (s *countingSink) all() []*model.WarningNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.WarningNotification(nil), s.notifications...)
}

// TestQuotaLifecycle walks the full enforcement story with a 10 GB limit
// and an 8 GB warning threshold: normal usage, warning, limit breach
// with blocking, cleanup, and automatic recovery.
func TestQuotaLifecycle(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	u := &fakeUsage{snap: model.NewUsageSnapshot(int64(5*model.BytesPerGB), 10, 8, clk.Now())}
	provider := &stubProvider{limit: 10, warning: 8, enabled: true}
	st := store.NewMemoryStore(clk)
	metrics := observability.NewMetrics()
	collector := agenterrors.NewErrorCollector(clk)

	g := gate.New(u, st, provider, clk, metrics, collector)
	m := monitor.New(u, st, provider, clk, metrics, collector, monitor.Options{
		TickInterval: 10 * time.Millisecond,
		StopTimeout:  2 * time.Second,
	})
	sink := &countingSink{}
	m.AddSink(sink)

	ctx := context.Background()
	setUsage := func(gb float64) {
		u.mu.Lock()
		u.snap = model.NewUsageSnapshot(int64(gb*model.BytesPerGB), 10, 8, clk.Now())
		u.mu.Unlock()
	}
	tickAndSettle := func() {
		// Let the monitor loop observe the new usage at least once.
		time.Sleep(50 * time.Millisecond)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	// Phase 1: 5 GB of 10 GB. Everything allowed, nothing alerted.
	tickAndSettle()
	if result, err := g.CheckBeforeOperation(ctx); err != nil || result != model.ResultAllowed {
		t.Fatalf("phase 1: result=%v err=%v, want allowed", result, err)
	}
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("phase 1: %d notifications, want 0", len(got))
	}

	// Phase 2: 8.5 GB crosses the warning threshold. Operations still
	// allowed; exactly one warning notification.
	setUsage(8.5)
	tickAndSettle()
	if result, err := g.CheckBeforeOperation(ctx); err != nil || result != model.ResultAllowed {
		t.Fatalf("phase 2: result=%v err=%v, want allowed", result, err)
	}
	if got := sink.all(); len(got) != 1 || got[0].Severity != model.SeverityWarning {
		t.Fatalf("phase 2: notifications=%+v, want one warning", got)
	}

	// Phase 3: 11 GB breaches the limit. The gate blocks and the
	// monitor escalates to critical.
	setUsage(11)
	tickAndSettle()
	result, err := g.CheckBeforeOperation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result != model.ResultBlockedLimitExceeded {
		t.Fatalf("phase 3: result=%v, want blocked", result)
	}
	if !g.IsBlocked(ctx) {
		t.Fatal("phase 3: IsBlocked should be true")
	}
	if got := sink.all(); len(got) != 2 || got[1].Severity != model.SeverityCritical {
		t.Fatalf("phase 3: notifications=%+v, want warning then critical", got)
	}

	// Repeated checks while blocked stay blocked, no re-alerting.
	for i := 0; i < 3; i++ {
		if result, _ := g.CheckBeforeOperation(ctx); result != model.ResultBlockedLimitExceeded {
			t.Fatalf("phase 3 repeat %d: result=%v", i, result)
		}
	}
	tickAndSettle()
	if got := sink.all(); len(got) != 2 {
		t.Fatalf("phase 3: stable state re-alerted, notifications=%d", len(got))
	}

	// Phase 4: cleanup frees space. The next check auto-unblocks and
	// the monitor records the cleared edges without new notifications.
	setUsage(7)
	tickAndSettle()
	if result, err := g.CheckBeforeOperation(ctx); err != nil || result != model.ResultAllowed {
		t.Fatalf("phase 4: result=%v err=%v, want allowed after recovery", result, err)
	}
	if g.IsBlocked(ctx) {
		t.Fatal("phase 4: IsBlocked should be false after recovery")
	}
	if got := sink.all(); len(got) != 2 {
		t.Fatalf("phase 4: cleared edges created notifications: %d", len(got))
	}

	events, err := st.ListEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[model.EventType]int{}
	for _, ev := range events {
		seen[ev.Type]++
	}
	for _, typ := range []model.EventType{
		model.EventThresholdExceeded,
		model.EventLimitExceeded,
		model.EventLimitCleared,
		model.EventThresholdCleared,
	} {
		if seen[typ] != 1 {
			t.Errorf("event %s recorded %d times, want 1", typ, seen[typ])
		}
	}

	stats, err := g.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.BlocksEnforced != 1 || stats.AutomaticUnblocks != 1 {
		t.Errorf("stats = %+v, want 1 block and 1 unblock", stats)
	}
}
