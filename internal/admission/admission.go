// Package admission decides whether a file submission may become a job:
// credit reservation against the ledger, per-user concurrency slots, and
// short-window duplicate suppression.
package admission

import (
	"context"
	"log/slog"
	"time"

	"autorename/internal/ledger"
	"autorename/internal/logging"
	"autorename/internal/services"
)

// Decision is the admission outcome for one request.
type Decision struct {
	Allowed bool
	// Remaining is the balance after the reservation.
	Remaining int64
	Premium   bool
	// Downgraded is set when an expired premium grant was observed.
	Downgraded bool
}

// Options configures a Controller.
type Options struct {
	Ledger          ledger.Ledger
	Limits          Limits
	Admins          []int64
	DuplicateWindow time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// Controller is safe for concurrent use by any number of jobs and users.
type Controller struct {
	ledger ledger.Ledger
	limits Limits
	admins []int64
	now    func() time.Time
	gate   *gate
	dedup  *dedup
	logger *slog.Logger
}

// New builds a Controller. A zero Limits value resolves every role to
// DefaultCapacity.
func New(opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limits := opts.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		ledger: opts.Ledger,
		limits: limits,
		admins: append([]int64(nil), opts.Admins...),
		now:    now,
		gate:   newGate(),
		dedup:  newDedup(opts.DuplicateWindow, now),
		logger: logger,
	}
}

// CheckAndReserve spends one credit for userID unless premium is active.
// Any ledger failure denies and returns an error marked
// services.ErrStoreUnavailable.
func (c *Controller) CheckAndReserve(ctx context.Context, userID int64) (Decision, error) {
	if c.ledger == nil {
		return Decision{}, services.Wrap(services.ErrStoreUnavailable, "admission", "check and reserve", "no credit ledger configured", nil)
	}
	res, err := c.ledger.CheckAndReserve(ctx, userID, c.now())
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "credit ledger unavailable; denying", "ledger_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job refused until the ledger recovers"),
			logging.String(logging.FieldErrorHint, "check database or redis connectivity"),
		)
		return Decision{}, services.Wrap(services.ErrStoreUnavailable, "admission", "check and reserve", "credit ledger unavailable", err)
	}
	if res.Downgraded {
		logging.WithContext(ctx, c.logger).Info("premium expired; downgraded",
			logging.String(logging.FieldEventType, "premium_downgraded"),
		)
	}
	return Decision{
		Allowed:    res.Allowed(),
		Remaining:  res.Credits,
		Premium:    res.Premium(),
		Downgraded: res.Downgraded,
	}, nil
}

// Role resolves the role of userID for this request.
func (c *Controller) Role(userID int64, premium bool) Role {
	return RoleOf(userID, premium, c.admins)
}

// CapacityFor returns the concurrency width for userID given its premium state.
func (c *Controller) CapacityFor(userID int64, premium bool) int {
	return Capacity(c.Role(userID, premium), c.limits)
}

// AcquireSlot blocks until userID has fewer than capacity jobs in flight,
// then claims a slot. Waiting only blocks the caller. The returned Permit
// must be released on every exit path.
func (c *Controller) AcquireSlot(ctx context.Context, userID int64, capacity int) (*Permit, error) {
	return c.gate.acquire(ctx, userID, capacity)
}

// InFlight reports the number of slots userID currently holds.
func (c *Controller) InFlight(userID int64) int {
	return c.gate.inFlight(userID)
}

// Waiting reports how many requests from userID are queued for a slot.
func (c *Controller) Waiting(userID int64) int {
	return c.gate.waiting(userID)
}

// ActiveGates reports how many users hold or wait for slots.
func (c *Controller) ActiveGates() int {
	return c.gate.size()
}

// IsDuplicate reports whether fileID was accepted within the duplicate
// window; when it was not, it is recorded as accepted now.
func (c *Controller) IsDuplicate(fileID string) bool {
	return c.dedup.check(fileID)
}

// Forget drops the acceptance record for fileID.
func (c *Controller) Forget(fileID string) {
	c.dedup.forget(fileID)
}

// SweepDuplicates removes expired acceptance records and returns the count.
func (c *Controller) SweepDuplicates(now time.Time) int {
	return c.dedup.sweep(now)
}

// TrackedFiles reports how many acceptance records are held.
func (c *Controller) TrackedFiles() int {
	return c.dedup.size()
}
