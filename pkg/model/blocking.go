package model

import "time"

// BlockingState is the single persisted record gating the protected
// operation. It lives under one fixed key in the shared store and survives
// process restarts. All writers derive the same state from the same inputs
// (usage vs. limit), so last-writer-wins replacement is safe.
type BlockingState struct {
	IsBlocked      bool       `json:"is_blocked"`
	Reason         string     `json:"reason"`
	BlockedAt      *time.Time `json:"blocked_at,omitempty"`
	UsageGBAtBlock float64    `json:"usage_gb_at_block"`
	LimitGB        float64    `json:"limit_gb"`
	UsagePercent   float64    `json:"usage_percentage"`
	LastChecked    time.Time  `json:"last_checked"`
}

// NewBlockingState builds a blocked record from the snapshot that tripped
// the limit.
func NewBlockingState(reason string, snap UsageSnapshot, now time.Time) BlockingState {
	blockedAt := now
	return BlockingState{
		IsBlocked:      true,
		Reason:         reason,
		BlockedAt:      &blockedAt,
		UsageGBAtBlock: snap.TotalGB,
		LimitGB:        snap.LimitGB,
		UsagePercent:   snap.UsagePercent,
		LastChecked:    now,
	}
}

// CheckResult is the outcome of a gate check before a protected operation.
// A blocked outcome is an expected result, not an error.
type CheckResult string

const (
	// ResultAllowed means the operation may proceed.
	ResultAllowed CheckResult = "allowed"

	// ResultBlockedLimitExceeded means the storage limit is exceeded and
	// the operation must not run.
	ResultBlockedLimitExceeded CheckResult = "blocked_limit_exceeded"

	// ResultBlockedOverrideExpired means a manual block is in place whose
	// override window has lapsed; the operation must not run until an
	// administrator clears it.
	ResultBlockedOverrideExpired CheckResult = "blocked_override_expired"
)

// Allowed reports whether the result permits the protected operation.
func (r CheckResult) Allowed() bool {
	return r == ResultAllowed
}
