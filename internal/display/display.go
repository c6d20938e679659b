package display

import (
	"context"
)

// Lease guards the single shared display surface. At most one job may drive
// the display at a time; this is a separate resource from the queue lock so
// display contention never serializes unrelated job bookkeeping.
type Lease struct {
	sem chan struct{}
}

func NewLease() *Lease {
	l := &Lease{sem: make(chan struct{}, 1)}
	l.sem <- struct{}{}
	return l
}

// Acquire blocks until the display is free or ctx is done.
func (l *Lease) Acquire(ctx context.Context) error {
	select {
	case <-l.sem:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the lease without blocking, reporting success.
func (l *Lease) TryAcquire() bool {
	select {
	case <-l.sem:
		return true
	default:
		return false
	}
}

// Release returns the lease. Calling Release without holding the lease is a
// programming error and panics.
func (l *Lease) Release() {
	select {
	case l.sem <- struct{}{}:
	default:
		panic("display: release of unheld lease")
	}
}
