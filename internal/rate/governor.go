// Package rate enforces the LogService hourly credit budget. The governor
// tracks the last reconciled balance and refuses background work when the
// remaining points dip into the reserve kept for interactive requests.
package rate

import "time"

// Decision is the outcome of ShouldProceed.
type Decision int

const (
	Go Decision = iota
	Wait
)

// Policy tunes the reservation. Reserve points are held back for manual
// work during the final ReserveWindow of every hourly window; SkewMargin
// pads the reported reset to tolerate clock skew.
type Policy struct {
	Reserve       float64
	ReserveWindow time.Duration
	SkewMargin    time.Duration
}

// DefaultPolicy returns the stock reservation: 600 points, 5 minute
// window, 60 second skew margin.
func DefaultPolicy() Policy {
	return Policy{
		Reserve:       600,
		ReserveWindow: 5 * time.Minute,
		SkewMargin:    time.Minute,
	}
}

// Governor holds the last-known credit balance. Credit accounting is
// eventually consistent: the caller reconciles against the LogService on a
// coarse interval and before acting on a confirmed rate-limit error.
type Governor struct {
	policy  Policy
	used    float64
	limit   float64
	resetAt time.Time
}

func NewGovernor(policy Policy) *Governor {
	return &Governor{policy: policy}
}

// ShouldProceed decides whether background work may spend credits now.
// Before the first reconcile the limit is unknown and the call is
// optimistic.
func (g *Governor) ShouldProceed(now time.Time) Decision {
	if g.limit == 0 {
		return Go
	}
	left := g.limit - g.used
	deadline := g.resetAt.Add(-g.policy.ReserveWindow)
	if left < g.policy.Reserve && now.Before(deadline) {
		return Wait
	}
	return Go
}

// Reconcile replaces the balance with the LogService's own accounting.
func (g *Governor) Reconcile(limit, used float64, resetIn time.Duration, now time.Time) {
	g.limit = limit
	g.used = used
	g.resetAt = now.Add(resetIn + g.policy.SkewMargin)
}

// PointsUsed returns the last reconciled spend.
func (g *Governor) PointsUsed() float64 { return g.used }

// PointsLimit returns the last reconciled hourly limit (0 = never probed).
func (g *Governor) PointsLimit() float64 { return g.limit }

// PointsLeft returns the estimated remaining credits.
func (g *Governor) PointsLeft() float64 { return g.limit - g.used }

// ResetAt returns the estimated window reset, skew margin included.
func (g *Governor) ResetAt() time.Time { return g.resetAt }

// ReserveDeadline returns the instant the reservation stops applying.
func (g *Governor) ReserveDeadline() time.Time {
	return g.resetAt.Add(-g.policy.ReserveWindow)
}
