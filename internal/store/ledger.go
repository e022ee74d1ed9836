package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autorename/internal/ledger"
)

// reserveQuery decides and records an admission in one statement. All CASE
// arms read the pre-update row, so ?1 (now) sees the same premium state in
// every column. last_downgraded is rewritten on every call and is 1 only
// for the call that expired the grant.
const reserveQuery = `
UPDATE users SET
    is_premium = CASE
        WHEN is_premium = 1 AND premium_expiry IS NOT NULL AND premium_expiry <= ?1 THEN 0
        ELSE is_premium END,
    premium_expiry = CASE
        WHEN is_premium = 1 AND premium_expiry IS NOT NULL AND premium_expiry <= ?1 THEN NULL
        ELSE premium_expiry END,
    premium_downgraded_at = CASE
        WHEN is_premium = 1 AND premium_expiry IS NOT NULL AND premium_expiry <= ?1 THEN ?1
        ELSE premium_downgraded_at END,
    last_downgraded = CASE
        WHEN is_premium = 1 AND premium_expiry IS NOT NULL AND premium_expiry <= ?1 THEN 1
        ELSE 0 END,
    credits = CASE
        WHEN is_premium = 1 AND (premium_expiry IS NULL OR premium_expiry > ?1) THEN credits
        WHEN credits > 0 THEN credits - 1
        ELSE credits END,
    last_admission = CASE
        WHEN is_premium = 1 AND (premium_expiry IS NULL OR premium_expiry > ?1) THEN 'premium'
        WHEN credits > 0 THEN 'credit'
        ELSE 'denied' END,
    updated_at = ?1
WHERE id = ?2
RETURNING last_admission, credits, last_downgraded`

// CheckAndReserve atomically admits or refuses one job for userID.
func (s *Store) CheckAndReserve(ctx context.Context, userID int64, now time.Time) (ledger.Reservation, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return ledger.Reservation{}, err
	}
	nowUnix := now.Unix()
	var (
		decision   string
		credits    int64
		downgraded bool
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, reserveQuery, nowUnix, userID).Scan(&decision, &credits, &downgraded)
	})
	if err != nil {
		return ledger.Reservation{}, fmt.Errorf("reserve credit for user %d: %w", userID, err)
	}
	return ledger.Reservation{
		Decision:   ledger.Decision(decision),
		Credits:    credits,
		Downgraded: downgraded,
	}, nil
}

// Account returns the balance of userID, provisioning a default row.
func (s *Store) Account(ctx context.Context, userID int64) (ledger.Account, error) {
	row, err := s.loadUser(ctx, userID)
	if err != nil {
		return ledger.Account{}, err
	}
	acct := ledger.Account{UserID: row.ID, Credits: row.Credits, Premium: row.IsPremium}
	if row.PremiumExpiry != nil {
		expiry := time.Unix(*row.PremiumExpiry, 0).UTC()
		acct.PremiumExpiry = &expiry
	}
	return acct, nil
}

// Grant adds credits to userID; negative values deduct without going below zero.
func (s *Store) Grant(ctx context.Context, userID int64, credits int64) (ledger.Account, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return ledger.Account{}, err
	}
	_, err := s.execWithRetry(ctx,
		`UPDATE users SET credits = MAX(credits + ?, 0), updated_at = ? WHERE id = ?`,
		credits, s.now().Unix(), userID)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("grant credits to user %d: %w", userID, err)
	}
	return s.Account(ctx, userID)
}

// SetPremium marks userID premium until expiry (nil for no end date).
func (s *Store) SetPremium(ctx context.Context, userID int64, expiry *time.Time) error {
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	var expiryUnix sql.NullInt64
	if expiry != nil {
		expiryUnix = sql.NullInt64{Int64: expiry.Unix(), Valid: true}
	}
	_, err := s.execWithRetry(ctx,
		`UPDATE users SET is_premium = 1, premium_expiry = ?, updated_at = ? WHERE id = ?`,
		expiryUnix, s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("set premium for user %d: %w", userID, err)
	}
	return nil
}

// RevokePremium clears any premium grant for userID.
func (s *Store) RevokePremium(ctx context.Context, userID int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE users SET is_premium = 0, premium_expiry = NULL, updated_at = ? WHERE id = ?`,
		s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("revoke premium for user %d: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("revoke premium for user %d: %w", userID, ErrUnknownUser)
	}
	return nil
}

// ErrUnknownUser is returned by operations that never provision.
var ErrUnknownUser = errors.New("unknown user")

var _ ledger.Ledger = (*Store)(nil)
