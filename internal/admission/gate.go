package admission

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// gateState is one user's slot accounting. It is only read or written
// inside gates.Compute, which serializes access per key.
type gateState struct {
	capacity int
	inflight int
	waiters  []chan struct{}
}

// gate is the per-user concurrency limiter. Entries are created on first
// acquire and dropped once nothing is in flight or waiting.
type gate struct {
	users *xsync.Map[int64, *gateState]
}

func newGate() *gate {
	return &gate{users: xsync.NewMap[int64, *gateState]()}
}

// Permit is a held concurrency slot. Release is safe to call more than once.
type Permit struct {
	userID int64
	once   sync.Once
	gate   *gate
}

// UserID returns the user the slot belongs to.
func (p *Permit) UserID() int64 {
	return p.userID
}

// Release returns the slot to the user's gate.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() { p.gate.release(p.userID) })
}

// acquire takes a slot for userID, waiting in FIFO order when the user is at
// capacity. The capacity passed in replaces the stored one; the in-flight
// count is kept so a resize never forgets running jobs.
func (g *gate) acquire(ctx context.Context, userID int64, capacity int) (*Permit, error) {
	if capacity < 1 {
		capacity = 1
	}
	var wait chan struct{}
	var wake []chan struct{}
	g.users.Compute(userID, func(st *gateState, loaded bool) (*gateState, xsync.ComputeOp) {
		if !loaded {
			st = &gateState{}
		}
		st.capacity = capacity
		wake = st.admitWaiters()
		if st.inflight < st.capacity && len(st.waiters) == 0 {
			st.inflight++
			return st, xsync.UpdateOp
		}
		wait = make(chan struct{})
		st.waiters = append(st.waiters, wait)
		return st, xsync.UpdateOp
	})
	for _, ch := range wake {
		close(ch)
	}
	if wait == nil {
		return &Permit{userID: userID, gate: g}, nil
	}

	select {
	case <-wait:
		return &Permit{userID: userID, gate: g}, nil
	case <-ctx.Done():
	}

	handedOff := false
	g.users.Compute(userID, func(st *gateState, loaded bool) (*gateState, xsync.ComputeOp) {
		if !loaded {
			return st, xsync.CancelOp
		}
		for i, ch := range st.waiters {
			if ch == wait {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				return st, st.op()
			}
		}
		handedOff = true
		return st, xsync.CancelOp
	})
	if handedOff {
		// The slot was granted between the cancel and the removal.
		g.release(userID)
	}
	return nil, ctx.Err()
}

func (g *gate) release(userID int64) {
	var wake []chan struct{}
	g.users.Compute(userID, func(st *gateState, loaded bool) (*gateState, xsync.ComputeOp) {
		if !loaded {
			return st, xsync.CancelOp
		}
		if st.inflight > 0 {
			st.inflight--
		}
		wake = st.admitWaiters()
		return st, st.op()
	})
	for _, ch := range wake {
		close(ch)
	}
}

// admitWaiters moves queued waiters into flight while slots are free and
// returns their channels for the caller to close outside Compute.
func (st *gateState) admitWaiters() []chan struct{} {
	var wake []chan struct{}
	for st.inflight < st.capacity && len(st.waiters) > 0 {
		wake = append(wake, st.waiters[0])
		st.waiters = st.waiters[1:]
		st.inflight++
	}
	return wake
}

func (st *gateState) op() xsync.ComputeOp {
	if st.inflight == 0 && len(st.waiters) == 0 {
		return xsync.DeleteOp
	}
	return xsync.UpdateOp
}

func (g *gate) inFlight(userID int64) int {
	n := 0
	g.users.Compute(userID, func(cur *gateState, loaded bool) (*gateState, xsync.ComputeOp) {
		if loaded {
			n = cur.inflight
		}
		return cur, xsync.CancelOp
	})
	return n
}

func (g *gate) waiting(userID int64) int {
	n := 0
	g.users.Compute(userID, func(cur *gateState, loaded bool) (*gateState, xsync.ComputeOp) {
		if loaded {
			n = len(cur.waiters)
		}
		return cur, xsync.CancelOp
	})
	return n
}

func (g *gate) size() int {
	return g.users.Size()
}
