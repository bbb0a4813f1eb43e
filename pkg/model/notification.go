package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades an admin-facing notification.
type Severity string

// Notification severities.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// WarningNotification is an admin-facing record created by the threshold
// monitor on a rising edge. It is mutated only by an explicit acknowledge
// operation and expires after its retention horizon.
type WarningNotification struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	TotalGB        float64    `json:"total_gb"`
	LimitGB        float64    `json:"limit_gb"`
	UsagePercent   float64    `json:"usage_percentage"`
	Message        string     `json:"message"`
	Severity       Severity   `json:"severity"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
}

// NewWarningNotification builds an unacknowledged notification from the
// snapshot that triggered it.
func NewWarningNotification(severity Severity, snap UsageSnapshot, message string, now time.Time) *WarningNotification {
	return &WarningNotification{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		TotalGB:      snap.TotalGB,
		LimitGB:      snap.LimitGB,
		UsagePercent: snap.UsagePercent,
		Message:      message,
		Severity:     severity,
	}
}

// Acknowledge marks the notification acknowledged in place.
func (n *WarningNotification) Acknowledge(by string, now time.Time) {
	n.Acknowledged = true
	n.AcknowledgedAt = &now
	n.AcknowledgedBy = by
}
