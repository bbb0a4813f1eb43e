package model

import "time"

// BytesPerGB is the conversion factor between raw byte counts and the
// gigabyte values used by configuration and reporting.
const BytesPerGB = float64(1 << 30)

// UsageSnapshot is an immutable view of storage consumption at a point in
// time. It is produced only by the usage cache; every other component reads
// it without modification.
type UsageSnapshot struct {
	TotalBytes      int64     `json:"total_bytes"`
	TotalGB         float64   `json:"total_gb"`
	LimitGB         float64   `json:"limit_gb"`
	WarningGB       float64   `json:"warning_gb"`
	UsagePercent    float64   `json:"usage_percentage"`
	LimitExceeded   bool      `json:"is_limit_exceeded"`
	WarningExceeded bool      `json:"is_warning_exceeded"`
	FileCount       int64     `json:"file_count"`
	SkippedFiles    int64     `json:"skipped_files"`
	ComputedAt      time.Time `json:"computed_at"`

	// Estimated marks a snapshot synthesized by the fail-safe path when
	// no probe result was available. Estimated snapshots always report
	// the limit as exceeded.
	Estimated bool `json:"estimated,omitempty"`
}

// NewUsageSnapshot derives a snapshot from a raw byte total and the
// configured limits.
func NewUsageSnapshot(totalBytes int64, limitGB, warningGB float64, now time.Time) UsageSnapshot {
	totalGB := float64(totalBytes) / BytesPerGB

	var pct float64
	if limitGB > 0 {
		pct = totalGB / limitGB * 100
	}

	return UsageSnapshot{
		TotalBytes:      totalBytes,
		TotalGB:         totalGB,
		LimitGB:         limitGB,
		WarningGB:       warningGB,
		UsagePercent:    pct,
		LimitExceeded:   totalGB >= limitGB,
		WarningExceeded: totalGB >= warningGB,
		ComputedAt:      now,
	}
}

// NewEstimatedSnapshot synthesizes a conservative snapshot at 110% of the
// limit. It is used when the probe fails and no previous snapshot exists,
// so that consumers fail safe toward denial.
func NewEstimatedSnapshot(limitGB, warningGB float64, now time.Time) UsageSnapshot {
	estimatedGB := limitGB * 1.1
	snap := NewUsageSnapshot(int64(estimatedGB*BytesPerGB), limitGB, warningGB, now)
	snap.Estimated = true
	return snap
}

// Age returns how old the snapshot is relative to now.
func (s UsageSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ComputedAt)
}
