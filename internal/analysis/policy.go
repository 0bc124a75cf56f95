// Package analysis combines provider clients with a retry policy into a
// single logical analyze operation with automatic primary/fallback switching.
package analysis

import (
	"time"

	"epub-converter-service/internal/provider"
)

type ActionKind int

const (
	// ActionRetry retries the same provider after Action.Delay.
	ActionRetry ActionKind = iota
	// ActionSwitch means the current provider is exhausted; the router moves
	// to the next provider, or fails if none is left.
	ActionSwitch
	// ActionFail stops immediately, no retry and no fallback.
	ActionFail
)

type Action struct {
	Kind  ActionKind
	Delay time.Duration
}

// Policy is retry behavior as plain data. Decide is pure: the same
// (attempt, class) pair always yields the same action, so the decision table
// is unit-testable without any provider in sight.
type Policy struct {
	// MaxAttempts is the per-provider ceiling for transient errors.
	MaxAttempts int
	// UnknownAttempts is the lower ceiling applied to unclassified errors.
	UnknownAttempts int
	// BaseDelay is the backoff unit; attempt n waits BaseDelay*Multipliers[n-1].
	BaseDelay   time.Duration
	Multipliers []int
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		UnknownAttempts: 2,
		BaseDelay:       2 * time.Second,
		Multipliers:     []int{1, 5, 15},
		MaxDelay:        time.Minute,
	}
}

// Decide maps the 1-based attempt number that just failed on the current
// provider and the error class to the next action.
func (p Policy) Decide(attempt int, class provider.ErrorClass) Action {
	if class == provider.ClassPermanent {
		return Action{Kind: ActionFail}
	}

	ceiling := p.MaxAttempts
	if class == provider.ClassUnknown {
		ceiling = p.UnknownAttempts
	}
	if attempt >= ceiling {
		return Action{Kind: ActionSwitch}
	}
	return Action{Kind: ActionRetry, Delay: p.backoff(attempt)}
}

func (p Policy) backoff(attempt int) time.Duration {
	if len(p.Multipliers) == 0 {
		return p.BaseDelay
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Multipliers) {
		idx = len(p.Multipliers) - 1
	}
	d := p.BaseDelay * time.Duration(p.Multipliers[idx])
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
