// Package timeline paces render loops with timeline semaphores. A Timeline
// is a process's own counter; a Peer watches the other process's counter
// and absorbs overruns instead of blocking on a value that already passed.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"render-compositor/gpu"
)

var ErrBadTransition = errors.New("timeline: illegal state transition")

// DefaultTimeout bounds every wait unless the caller changes it.
const DefaultTimeout = 5 * time.Second

// waitSlice is how long a single driver wait may block before ctx is
// checked again.
const waitSlice = 100 * time.Millisecond

type State int

const (
	Uninitialized State = iota
	Local               // created exportable, not yet handed out
	Shared              // handle duplicated and enqueued for the peer
	Imported            // rebuilt from a peer's handle
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Local:
		return "local"
	case Shared:
		return "shared"
	case Imported:
		return "imported"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Timeline is a counter this process signals. Advance hands out the
// wait/signal pair for the next submission.
type Timeline struct {
	sem     gpu.Semaphore
	state   State
	step    uint64
	pending uint64

	Timeout time.Duration
}

// NewLocal wraps a freshly created exportable semaphore.
func NewLocal(sem gpu.ExportableSemaphore, step uint64) (*Timeline, error) {
	return newTimeline(sem, Local, step)
}

// NewImported wraps a semaphore imported from the peer's handle.
func NewImported(sem gpu.Semaphore, step uint64) (*Timeline, error) {
	return newTimeline(sem, Imported, step)
}

func newTimeline(sem gpu.Semaphore, s State, step uint64) (*Timeline, error) {
	if step == 0 {
		return nil, fmt.Errorf("timeline: step must be positive")
	}
	v, err := sem.Value()
	if err != nil {
		return nil, err
	}
	return &Timeline{sem: sem, state: s, step: step, pending: v, Timeout: DefaultTimeout}, nil
}

func (t *Timeline) State() State             { return t.state }
func (t *Timeline) Step() uint64             { return t.step }
func (t *Timeline) Semaphore() gpu.Semaphore { return t.sem }
func (t *Timeline) Value() (uint64, error)   { return t.sem.Value() }

// Pending is the value the last submission will signal.
func (t *Timeline) Pending() uint64 { return t.pending }

// MarkShared records that the handle was exported and enqueued.
func (t *Timeline) MarkShared() error {
	if t.state != Local {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, t.state, Shared)
	}
	t.state = Shared
	return nil
}

// Advance returns the value the next submission waits on and the value it
// signals, and moves the counter forward by one step.
func (t *Timeline) Advance() (wait, signal uint64) {
	wait = t.pending
	t.pending += t.step
	return wait, t.pending
}

// Wait blocks until the counter reaches target, ctx is done or Timeout
// elapses.
func (t *Timeline) Wait(ctx context.Context, target uint64) error {
	return waitFor(ctx, t.sem, target, t.Timeout)
}

// waitFor waits in slices so ctx is honoured even though the driver wait
// is not cancellable. A negative timeout waits until ctx is done.
func waitFor(ctx context.Context, sem gpu.Semaphore, target uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		slice := waitSlice
		if timeout >= 0 {
			slice = min(slice, max(time.Until(deadline), 0))
		}
		err := sem.Wait(target, slice)
		if err == nil {
			return nil
		}
		if !errors.Is(err, gpu.ErrWaitTimeout) {
			return err
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return fmt.Errorf("%w: value %d after %v", gpu.ErrWaitTimeout, target, timeout)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
