package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff bounds a sleep-poll loop. Delays start at Initial and double up to
// Max; the loop gives up once Budget has elapsed.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Budget  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial: time.Millisecond,
		Max:     50 * time.Millisecond,
		Budget:  10 * time.Second,
	}
}

func (b Backoff) run(ctx context.Context, try func() (bool, error)) error {
	delay := b.Initial
	if delay <= 0 {
		delay = time.Millisecond
	}
	deadline := time.Now().Add(b.Budget)

	for {
		done, err := try()
		if err != nil || done {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %v", ErrHandshakeTimeout, b.Budget)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}

// Poll waits for the next message with bounded backoff.
func (c *Channel) Poll(ctx context.Context, b Backoff) (tag byte, payload []byte, err error) {
	err = b.run(ctx, func() (bool, error) {
		var ok bool
		var e error
		tag, payload, ok, e = c.TryDequeue()
		return ok, e
	})
	return tag, payload, err
}

// OpenWait retries Open while the region does not exist yet.
func OpenWait(ctx context.Context, name string, size SizeFunc, b Backoff) (*Channel, error) {
	var c *Channel
	err := b.run(ctx, func() (bool, error) {
		var e error
		c, e = Open(name, size)
		if errors.Is(e, ErrChannelNotFound) {
			return false, nil
		}
		return e == nil, e
	})
	if errors.Is(err, ErrHandshakeTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	return c, err
}
