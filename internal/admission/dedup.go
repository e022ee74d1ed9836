package admission

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultDuplicateWindow is how long an accepted file identifier suppresses
// resubmissions.
const DefaultDuplicateWindow = 10 * time.Second

// dedup remembers when each file identifier was last accepted.
type dedup struct {
	window  time.Duration
	now     func() time.Time
	entries *xsync.Map[string, time.Time]
}

func newDedup(window time.Duration, now func() time.Time) *dedup {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	return &dedup{window: window, now: now, entries: xsync.NewMap[string, time.Time]()}
}

// check reports whether fileID was accepted within the window. When it was
// not, the current time is recorded in the same atomic step.
func (d *dedup) check(fileID string) bool {
	now := d.now()
	duplicate := false
	d.entries.Compute(fileID, func(accepted time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if loaded && now.Sub(accepted) < d.window {
			duplicate = true
			return accepted, xsync.CancelOp
		}
		return now, xsync.UpdateOp
	})
	return duplicate
}

func (d *dedup) forget(fileID string) {
	d.entries.Delete(fileID)
}

// sweep drops entries whose window has passed and returns how many.
func (d *dedup) sweep(now time.Time) int {
	removed := 0
	d.entries.Range(func(fileID string, accepted time.Time) bool {
		d.entries.Compute(fileID, func(current time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
			if loaded && now.Sub(current) >= d.window {
				removed++
				return current, xsync.DeleteOp
			}
			return current, xsync.CancelOp
		})
		return true
	})
	return removed
}

func (d *dedup) size() int {
	return d.entries.Size()
}
