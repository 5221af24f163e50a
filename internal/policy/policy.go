// Package policy decides whether an authenticated user may see or change a
// ledger entity, and applies the per-tier limits.
package policy

import (
	"time"

	"fintrack/internal/core"
)

const (
	// FreeAccountLimit is the number of accounts a free-tier user may hold.
	FreeAccountLimit = 2
	// FreeHistoryMonths is how far back a free-tier user can list transactions.
	FreeHistoryMonths = 6
)

// Actor is the user an operation runs for.
type Actor struct {
	UserID string
	Tier   core.Tier
}

func (a Actor) IsPremium() bool { return a.Tier == core.PremiumTier }

// CanView reports whether actor may read entity. Supported entities are
// core.Account, core.Category, core.TransactionDetail and pointers to them.
func CanView(actor Actor, entity any) bool {
	switch v := entity.(type) {
	case core.Account:
		return v.UserID == actor.UserID
	case core.Category:
		return v.IsSystem || v.OwnedBy(actor.UserID)
	case core.TransactionDetail:
		return v.Account != nil && v.Account.UserID == actor.UserID
	}
	if v, ok := deref(entity); ok {
		return CanView(actor, v)
	}
	return false
}

// CanUpdate reports whether actor may change entity. System categories are
// never editable.
func CanUpdate(actor Actor, entity any) bool {
	switch v := entity.(type) {
	case core.Category:
		return !v.IsSystem && v.OwnedBy(actor.UserID)
	case core.Account, core.TransactionDetail:
		return CanView(actor, v)
	}
	if v, ok := deref(entity); ok {
		return CanUpdate(actor, v)
	}
	return false
}

// CanDelete is CanUpdate, except protected categories also stay put.
func CanDelete(actor Actor, entity any) bool {
	switch v := entity.(type) {
	case core.Category:
		return CanUpdate(actor, v) && !v.IsProtected
	case core.Account, core.TransactionDetail:
		return CanUpdate(actor, v)
	}
	if v, ok := deref(entity); ok {
		return CanDelete(actor, v)
	}
	return false
}

func deref(entity any) (any, bool) {
	switch v := entity.(type) {
	case *core.Account:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *core.Category:
		if v == nil {
			return nil, false
		}
		return *v, true
	case *core.TransactionDetail:
		if v == nil {
			return nil, false
		}
		return *v, true
	}
	return nil, false
}

// Authorize turns a denied check into a forbidden error.
func Authorize(allowed bool, action, entity, id string) error {
	if allowed {
		return nil
	}
	return core.Forbidden("not allowed to %s %s %s", action, entity, id)
}

// CheckAccountQuota rejects account creation once a free-tier user holds
// FreeAccountLimit accounts.
func CheckAccountQuota(actor Actor, existing int) error {
	if actor.IsPremium() || existing < FreeAccountLimit {
		return nil
	}
	return core.RuleViolation("free tier is limited to %d accounts; upgrade to premium for more", FreeAccountLimit)
}

// HistoryCutoff returns the earliest date actor may list, or the zero Date
// when history is unlimited.
func HistoryCutoff(actor Actor, now time.Time) core.Date {
	if actor.IsPremium() {
		return core.Date{}
	}
	t := now.UTC().AddDate(0, -FreeHistoryMonths, 0)
	return core.NewDate(t.Year(), int(t.Month()), t.Day())
}

// ClampFrom raises a requested start date to the actor's history cutoff. A
// zero from means "from the beginning".
func ClampFrom(actor Actor, now time.Time, from core.Date) core.Date {
	cutoff := HistoryCutoff(actor, now)
	if cutoff.IsZero() {
		return from
	}
	if from.IsZero() || from.Before(cutoff.Time) {
		return cutoff
	}
	return from
}
