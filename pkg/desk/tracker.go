package desk

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrReadingTimeout is returned by WaitForUpdate when no fresh reading
// arrives in time.
var ErrReadingTimeout = errors.New("timed out waiting for height update")

// DefaultStaleAfter is how old a reading may be before Latest stops
// trusting it as current.
const DefaultStaleAfter = 2 * time.Second

// Tracker is a single-slot cache of the latest height reading. The
// transport's notification goroutine is the only writer (via Publish);
// the control loop reads it. Older undelivered values are not retained:
// latest value wins.
type Tracker struct {
	staleAfter time.Duration

	mu      sync.Mutex
	latest  Reading
	has     bool
	updated chan struct{}
}

// NewTracker returns a Tracker that considers readings older than
// staleAfter not current. staleAfter <= 0 uses DefaultStaleAfter.
func NewTracker(staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{
		staleAfter: staleAfter,
		updated:    make(chan struct{}),
	}
}

// Publish records a new reading and wakes any waiter. Called by the
// transport for every decoded height notification.
func (t *Tracker) Publish(mm int) {
	t.mu.Lock()
	t.latest = Reading{Millimeters: mm, ObservedAt: time.Now()}
	t.has = true
	close(t.updated)
	t.updated = make(chan struct{})
	t.mu.Unlock()
}

// Latest returns the most recent reading. ok is false if no reading has
// arrived yet or the newest one is older than the staleness bound.
func (t *Tracker) Latest() (Reading, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.has || time.Since(t.latest.ObservedAt) > t.staleAfter {
		return Reading{}, false
	}
	return t.latest, true
}

// WaitForUpdate blocks until a reading newer than the call arrives,
// the timeout expires, or ctx is canceled. It never returns a cached
// value: this is how the control loop forces a fresh sample before
// committing to a stop decision.
func (t *Tracker) WaitForUpdate(ctx context.Context, timeout time.Duration) (Reading, error) {
	t.mu.Lock()
	ch := t.updated
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		t.mu.Lock()
		r := t.latest
		t.mu.Unlock()
		return r, nil
	case <-timer.C:
		return Reading{}, ErrReadingTimeout
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
}
