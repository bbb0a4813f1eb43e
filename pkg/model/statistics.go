package model

import "time"

// EnforcementStatistics are process-spanning aggregate counters for gate
// activity. They are persisted as a whole record so they can be inspected
// from any process sharing the store.
type EnforcementStatistics struct {
	TotalChecks       int64     `json:"total_checks"`
	BlocksEnforced    int64     `json:"blocks_enforced"`
	AutomaticUnblocks int64     `json:"automatic_unblocks"`
	CurrentlyBlocked  bool      `json:"currently_blocked"`
	CurrentUsageGB    float64   `json:"current_usage_gb"`
	LimitGB           float64   `json:"limit_gb"`
	LastCheckAt       time.Time `json:"last_check_at"`
	ResetAt           time.Time `json:"reset_at"`
}

// MonitorConfig is the stored configuration for the threshold monitor,
// kept under a fixed key so operators can tune a running fleet.
type MonitorConfig struct {
	TickIntervalSeconds        int `json:"tick_interval_seconds"`
	EventRetentionHours        int `json:"event_retention_hours"`
	NotificationRetentionHours int `json:"notification_retention_hours"`
}

// ComponentHealth is one component's contribution to an aggregate health
// check.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// HealthStatus aggregates per-component health into one verdict.
type HealthStatus struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentHealth `json:"components"`
}

// NewHealthStatus builds a HealthStatus whose aggregate verdict is the
// conjunction of all component verdicts.
func NewHealthStatus(components map[string]ComponentHealth) HealthStatus {
	healthy := true
	for _, c := range components {
		if !c.Healthy {
			healthy = false
			break
		}
	}
	return HealthStatus{Healthy: healthy, Components: components}
}
