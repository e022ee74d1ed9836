// Package ledger defines the per-user credit ledger contract and a Redis
// implementation of it. The SQLite implementation lives in internal/store.
package ledger

import (
	"context"
	"time"
)

// Decision records why a reservation was granted or refused.
type Decision string

const (
	DecisionPremium Decision = "premium"
	DecisionCredit  Decision = "credit"
	DecisionDenied  Decision = "denied"
)

// Reservation is the outcome of one CheckAndReserve call.
type Reservation struct {
	Decision Decision
	// Credits is the balance after the call.
	Credits int64
	// Downgraded is set when this call discovered an expired premium grant.
	Downgraded bool
}

// Allowed reports whether the job may proceed.
func (r Reservation) Allowed() bool {
	return r.Decision == DecisionPremium || r.Decision == DecisionCredit
}

// Premium reports whether the user held an active premium grant.
func (r Reservation) Premium() bool {
	return r.Decision == DecisionPremium
}

// Account is a read-only view of a user's balance.
type Account struct {
	UserID        int64
	Credits       int64
	Premium       bool
	PremiumExpiry *time.Time
}

// ActivePremium reports whether the premium grant is in force at now.
func (a Account) ActivePremium(now time.Time) bool {
	return a.Premium && (a.PremiumExpiry == nil || a.PremiumExpiry.After(now))
}

// Ledger is implemented by every credit backend. CheckAndReserve must be a
// single atomic step: concurrent calls for one user never double-spend.
// Unknown users are provisioned with the backend's default balance.
type Ledger interface {
	CheckAndReserve(ctx context.Context, userID int64, now time.Time) (Reservation, error)
	Account(ctx context.Context, userID int64) (Account, error)
	Grant(ctx context.Context, userID int64, credits int64) (Account, error)
	// SetPremium grants premium until expiry; nil expiry means no end date.
	SetPremium(ctx context.Context, userID int64, expiry *time.Time) error
	RevokePremium(ctx context.Context, userID int64) error
}
