package monitor

import (
	"sync"
	"time"

	agenterrors "github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/pkg/model"
)

// EscalationRule declares when a named pattern escalates: Threshold
// occurrences within Window raise the reported severity to Escalated.
type EscalationRule struct {
	Threshold int
	Window    time.Duration
	Escalated model.Severity
}

// Escalator keeps a sliding time-window occurrence counter per named
// pattern. Callers record each occurrence with its base severity and get
// back the effective one. Safe for concurrent use.
type Escalator struct {
	mu          sync.Mutex
	clock       agenterrors.Clock
	rules       map[string]EscalationRule
	occurrences map[string][]time.Time
}

// NewEscalator creates an Escalator with no rules.
func NewEscalator(clock agenterrors.Clock) *Escalator {
	return &Escalator{
		clock:       clock,
		rules:       make(map[string]EscalationRule),
		occurrences: make(map[string][]time.Time),
	}
}

// SetRule installs or replaces the rule for a pattern.
func (e *Escalator) SetRule(pattern string, rule EscalationRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[pattern] = rule
}

// RecordOccurrence records one occurrence of the pattern and returns the
// effective severity: Escalated once the rule's threshold is reached
// within its window, base otherwise. Patterns without a rule never
// escalate.
func (e *Escalator) RecordOccurrence(pattern string, base model.Severity) model.Severity {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	rule, hasRule := e.rules[pattern]

	window := rule.Window
	if !hasRule || window <= 0 {
		// Still count the occurrence so a later rule sees history,
		// bounded by the largest window anyone could configure.
		window = time.Hour
	}

	kept := e.occurrences[pattern][:0]
	for _, t := range e.occurrences[pattern] {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	e.occurrences[pattern] = kept

	if hasRule && rule.Threshold > 0 && len(kept) >= rule.Threshold {
		return rule.Escalated
	}
	return base
}

// Count returns the number of occurrences of the pattern currently
// inside its rule window.
func (e *Escalator) Count(pattern string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, hasRule := e.rules[pattern]
	window := rule.Window
	if !hasRule || window <= 0 {
		window = time.Hour
	}

	now := e.clock.Now()
	n := 0
	for _, t := range e.occurrences[pattern] {
		if now.Sub(t) < window {
			n++
		}
	}
	return n
}
