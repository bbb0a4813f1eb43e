package model

import "time"

// EventType classifies an audit event in the monitoring time-series.
type EventType string

// Event types recorded by the threshold monitor and the gate.
const (
	EventThresholdExceeded  EventType = "warning_threshold_exceeded"
	EventThresholdCleared   EventType = "warning_threshold_cleared"
	EventLimitExceeded      EventType = "limit_exceeded"
	EventLimitCleared       EventType = "limit_cleared"
	EventMonitoringStarted  EventType = "monitoring_started"
	EventMonitoringStopped  EventType = "monitoring_stopped"
	EventMonitoringError    EventType = "monitoring_error"
	EventPeriodicCheck      EventType = "periodic_check"
	EventConfigChanged      EventType = "configuration_changed"
	EventNotificationSent   EventType = "notification_sent"
	EventNotificationFailed EventType = "notification_failed"
)

// WarningEvent is one append-only entry in the monitoring audit trail.
// Events are retained for a configurable horizon and purged by the
// monitor's periodic cleanup.
type WarningEvent struct {
	Type         EventType `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	TotalGB      float64   `json:"total_gb"`
	LimitGB      float64   `json:"limit_gb"`
	UsagePercent float64   `json:"usage_percentage"`
	Message      string    `json:"message"`

	// AdditionalData carries event-specific structured context, for
	// example old/new values on a configuration_changed event.
	AdditionalData map[string]any `json:"additional_data,omitempty"`
}

// NewWarningEvent builds an event carrying the snapshot fields.
func NewWarningEvent(typ EventType, snap UsageSnapshot, message string, now time.Time) WarningEvent {
	return WarningEvent{
		Type:         typ,
		Timestamp:    now,
		TotalGB:      snap.TotalGB,
		LimitGB:      snap.LimitGB,
		UsagePercent: snap.UsagePercent,
		Message:      message,
	}
}
