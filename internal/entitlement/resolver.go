// Package entitlement decides which payment method covers a metered action.
// It never touches storage; the only mutation it performs is the lazy
// freemium reset on the user value it is given, which callers must persist.
package entitlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGFittingBot/internal/models"
)

type Method string

const (
	MethodCredits      Method = "credits"
	MethodSubscription Method = "subscription"
	MethodFreemium     Method = "freemium"
)

const ReasonInsufficientCredits = "insufficient_credits"

var ErrInvalidCost = errors.New("action cost must be positive")

// InsufficientError is the user-facing denial. It carries what the client
// needs to render a top-up prompt.
type InsufficientError struct {
	Reason   string
	Balance  int
	Required int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("%s: balance=%d required=%d", e.Reason, e.Balance, e.Required)
}

// Policy holds the freemium parameters.
type Policy struct {
	FreemiumLimit  int
	FreemiumPeriod time.Duration
}

func DefaultPolicy() Policy {
	return Policy{FreemiumLimit: 10, FreemiumPeriod: 30 * 24 * time.Hour}
}

type Decision struct {
	Method                Method
	Cost                  int
	Balance               int
	SubscriptionTier      models.SubscriptionTier
	SubscriptionExpiresAt *time.Time
	FreemiumUsed          int
	FreemiumRemaining     int
	// FreemiumReset is true when Resolve advanced the freemium window.
	FreemiumReset bool
}

// Watermark reports whether output produced under this decision is marked.
func (d Decision) Watermark() bool {
	return d.Method == MethodFreemium
}

// ResetFreemiumIfDue starts a new freemium window when the previous one is at
// least one period old, or when none was ever started.
func (p Policy) ResetFreemiumIfDue(u *models.User, now time.Time) bool {
	if u.FreemiumResetAt == nil {
		ts := now
		u.FreemiumResetAt = &ts
		return true
	}
	if now.Sub(*u.FreemiumResetAt) >= p.FreemiumPeriod {
		ts := now
		u.FreemiumActionsUsed = 0
		u.FreemiumResetAt = &ts
		return true
	}
	return false
}

func (p Policy) FreemiumRemaining(u *models.User) int {
	remaining := p.FreemiumLimit - u.FreemiumActionsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Resolve applies the precedence credits > subscription > freemium. The
// returned Decision is valid even when err is an *InsufficientError, so the
// caller can see whether a reset happened.
func (p Policy) Resolve(u *models.User, cost int, now time.Time) (Decision, error) {
	if cost <= 0 {
		return Decision{}, ErrInvalidCost
	}

	d := Decision{
		Cost:                  cost,
		Balance:               u.BalanceCredits,
		SubscriptionTier:      u.SubscriptionTier,
		SubscriptionExpiresAt: u.SubscriptionExpiresAt,
	}

	if u.BalanceCredits >= cost {
		d.Method = MethodCredits
		d.FreemiumUsed = u.FreemiumActionsUsed
		d.FreemiumRemaining = p.FreemiumRemaining(u)
		return d, nil
	}

	if u.HasActiveSubscription(now) {
		d.Method = MethodSubscription
		d.FreemiumUsed = u.FreemiumActionsUsed
		d.FreemiumRemaining = p.FreemiumRemaining(u)
		return d, nil
	}

	d.FreemiumReset = p.ResetFreemiumIfDue(u, now)
	d.FreemiumUsed = u.FreemiumActionsUsed
	d.FreemiumRemaining = p.FreemiumRemaining(u)
	if u.FreemiumActionsUsed < p.FreemiumLimit {
		d.Method = MethodFreemium
		return d, nil
	}

	return d, &InsufficientError{
		Reason:   ReasonInsufficientCredits,
		Balance:  u.BalanceCredits,
		Required: cost,
	}
}
