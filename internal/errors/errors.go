package errors

import (
	stderrors "errors"
	"sync"
	"time"
)

// Code represents a typed error code surfaced in health reports and logs.
type Code string

// Quota subsystem error codes.
const (
	ErrConfigInvalid      Code = "CONFIG_INVALID"
	ErrProbeFailed        Code = "PROBE_FAILED"
	ErrStoreUnavailable   Code = "STORE_UNAVAILABLE"
	ErrCallbackFailed     Code = "CALLBACK_FAILED"
	ErrMonitorStopTimeout Code = "MONITOR_STOP_TIMEOUT"
	ErrArchiveFailed      Code = "ARCHIVE_FAILED"
)

// defaultTTL is the auto-expiry duration for errors not re-reported.
const defaultTTL = 5 * time.Minute

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// QuotaError is a typed error with code, component, and optional wrapped
// cause. Blocked gate outcomes are never modeled as errors; QuotaError
// covers genuine failures only.
type QuotaError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Timestamp int64  `json:"timestamp"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *QuotaError) Unwrap() error {
	return e.Err
}

// New builds a QuotaError wrapping cause (which may be nil).
func New(code Code, component, message string, cause error) *QuotaError {
	return &QuotaError{
		Code:      code,
		Message:   message,
		Component: component,
		Timestamp: time.Now().UnixMilli(),
		Err:       cause,
	}
}

// HasCode reports whether err is (or wraps) a QuotaError with the given code.
func HasCode(err error, code Code) bool {
	var qe *QuotaError
	if stderrors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// entry wraps a QuotaError with its last-reported time for expiry tracking.
type entry struct {
	err        QuotaError
	lastReport time.Time
}

// ErrorCollector is a thread-safe store for active subsystem errors.
// Errors are keyed by Code+Component and auto-expire after 5 minutes
// if not re-reported.
type ErrorCollector struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]entry // key = string(Code) + "|" + Component
}

// NewErrorCollector creates an ErrorCollector with the given clock.
func NewErrorCollector(clock Clock) *ErrorCollector {
	return &ErrorCollector{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// key builds the dedup key for an error.
func key(code Code, component string) string {
	return string(code) + "|" + component
}

// Report stores or refreshes an error. The dedup key is Code+Component.
func (ec *ErrorCollector) Report(err QuotaError) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	k := key(err.Code, err.Component)
	ec.entries[k] = entry{
		err:        err,
		lastReport: ec.clock.Now(),
	}
}

// GetActiveErrors returns all errors reported within the TTL window.
func (ec *ErrorCollector) GetActiveErrors() []QuotaError {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	result := make([]QuotaError, 0, len(ec.entries))
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		result = append(result, e.err)
	}
	return result
}

// GetActiveErrorCodes returns a deduplicated list of active error codes.
func (ec *ErrorCollector) GetActiveErrorCodes() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	seen := make(map[Code]struct{})
	codes := make([]string, 0)
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		if _, ok := seen[e.err.Code]; !ok {
			seen[e.err.Code] = struct{}{}
			codes = append(codes, string(e.err.Code))
		}
	}
	return codes
}

// Clear removes all tracked errors.
func (ec *ErrorCollector) Clear() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries = make(map[string]entry)
}
