// Package eligibility decides whether a registration code may be redeemed by
// a user at a given instant.
//
// The gates run in a fixed order and the first failing gate wins:
//
//  1. presented code (trimmed) equals the stored code (trimmed), case-sensitive
//  2. the record is active
//  3. the record still has room (len(users) < max_use)
//  4. now lies within [start_date, end_date], both ends inclusive
//  5. the user has not redeemed the record before
//
// The reason is for logs and audit only. Callers outside the service must see
// a single "cannot be redeemed" answer no matter which gate failed.
package eligibility

import (
	"strings"
	"time"

	"github.com/dalemusser/regcodes/internal/domain/models"
)

// Reason identifies the gate that rejected a redemption.
type Reason string

const (
	Eligible        Reason = ""
	CodeMismatch    Reason = "code_mismatch"
	Inactive        Reason = "inactive"
	MaxUseReached   Reason = "max_use_reached"
	OutsideWindow   Reason = "outside_window"
	AlreadyRedeemed Reason = "already_redeemed"
)

// Result is the outcome of Check.
type Result struct {
	Reason Reason
}

// OK reports whether every gate passed.
func (r Result) OK() bool {
	return r.Reason == Eligible
}

// Check runs the gates against rec. It has no side effects.
func Check(rec models.RegistrationCode, presentedCode, userRef string, now time.Time) Result {
	if strings.TrimSpace(presentedCode) != strings.TrimSpace(rec.Code) {
		return Result{Reason: CodeMismatch}
	}
	if !rec.Active {
		return Result{Reason: Inactive}
	}
	if len(rec.Users) >= rec.MaxUse {
		return Result{Reason: MaxUseReached}
	}
	if now.Before(rec.StartDate) || now.After(rec.EndDate) {
		return Result{Reason: OutsideWindow}
	}
	if rec.HasUser(userRef) {
		return Result{Reason: AlreadyRedeemed}
	}
	return Result{Reason: Eligible}
}

// IsEligible is Check reduced to a bool.
func IsEligible(rec models.RegistrationCode, presentedCode, userRef string, now time.Time) bool {
	return Check(rec, presentedCode, userRef, now).OK()
}
