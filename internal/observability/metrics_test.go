package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	// Creating metrics should not panic.
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	// Gather from our custom registry — should have metrics.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	// Gather from the default registry — our metrics should NOT be there.
	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}

	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry — should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()

	// Touch the vecs so their families show up in Gather.
	m.ChecksTotal.WithLabelValues("allowed").Add(0)
	m.StoreErrorsTotal.WithLabelValues("get_blocking_state").Add(0)
	m.EventsEmittedTotal.WithLabelValues("periodic_check").Add(0)
	m.NotificationsCreatedTotal.WithLabelValues("warning").Add(0)
	m.PurgedRecordsTotal.WithLabelValues("events").Add(0)
	m.ErrorsTotal.WithLabelValues("PROBE_FAILED").Add(0)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}

	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "quotad_") {
			t.Errorf("metric %q does not start with quotad_ prefix", f.GetName())
		}
	}
}

func TestNewMetrics_CounterIncrement(t *testing.T) {
	m := NewMetrics()

	// Increment a plain counter.
	m.BlocksEnforcedTotal.Inc()

	pb := &dto.Metric{}
	if err := m.BlocksEnforcedTotal.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("BlocksEnforcedTotal = %v, want 1", got)
	}

	// Increment a counter vec.
	m.ChecksTotal.WithLabelValues("allowed").Inc()
	m.ChecksTotal.WithLabelValues("allowed").Inc()
	m.ChecksTotal.WithLabelValues("blocked_limit_exceeded").Inc()

	pb = &dto.Metric{}
	if err := m.ChecksTotal.WithLabelValues("allowed").Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("ChecksTotal{allowed} = %v, want 2", got)
	}
}

func TestNewMetrics_GaugeSet(t *testing.T) {
	m := NewMetrics()

	m.Blocked.Set(1)
	m.UsageBytes.Set(5 << 30)

	pb := &dto.Metric{}
	if err := m.Blocked.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 1 {
		t.Errorf("Blocked = %v, want 1", got)
	}

	pb = &dto.Metric{}
	if err := m.UsageBytes.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != float64(int64(5)<<30) {
		t.Errorf("UsageBytes = %v, want %v", got, float64(int64(5)<<30))
	}
}
