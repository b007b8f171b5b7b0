package protocol

import (
	"context"
	"errors"
	"fmt"

	"render-compositor/ipc"
	"render-compositor/logging"
)

// Handler consumes one raw payload.
type Handler func(ctx context.Context, payload []byte) error

// Builder collects handlers before the message loop starts. It is not safe
// for concurrent use.
type Builder struct {
	handlers [targetCount]Handler
}

// Register installs h for t.
func (b *Builder) Register(t Target, h Handler) error {
	if _, ok := PayloadSize(t); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, byte(t))
	}
	if b.handlers[t] != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, t)
	}
	b.handlers[t] = h
	return nil
}

// On registers a typed handler. The target comes from the message type, so
// a handler can never be filed under the wrong tag.
func On[M any, P interface {
	*M
	Message
}](b *Builder, fn func(context.Context, P) error) error {
	t := P(new(M)).Target()
	return b.Register(t, func(ctx context.Context, payload []byte) error {
		m := P(new(M))
		if err := m.UnmarshalBinary(payload); err != nil {
			return err
		}
		return fn(ctx, m)
	})
}

// Build freezes the registered handlers into a Table. Later changes to b do
// not affect it.
func (b *Builder) Build() *Table {
	return &Table{handlers: b.handlers}
}

// Table routes payloads by target. It is immutable.
type Table struct {
	handlers [targetCount]Handler
}

// Dispatch runs the handler for tag. Tags with no handler fail with
// ErrUnknownTarget so version skew between binaries is loud.
func (t *Table) Dispatch(ctx context.Context, tag byte, payload []byte) error {
	target := Target(tag)
	n, ok := PayloadSize(target)
	if !ok || t.handlers[target] == nil {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, tag)
	}
	if len(payload) != n {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrShortPayload, target, n, len(payload))
	}
	logging.Logger().Debug("dispatch", "target", target)
	return t.handlers[target](ctx, payload)
}

// Send enqueues m on the producer end of ch.
func Send(ch *ipc.Channel, m Message) error {
	p, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", m.Target(), err)
	}
	if err := ch.Enqueue(byte(m.Target()), p); err != nil {
		return fmt.Errorf("send %s: %w", m.Target(), err)
	}
	return nil
}

// Pump dispatches every message currently queued on ch and reports how many
// it handled. It never blocks on an empty channel.
func Pump(ctx context.Context, ch *ipc.Channel, t *Table) (int, error) {
	n := 0
	for {
		tag, payload, ok, err := ch.TryDequeue()
		if err != nil {
			return n, wrapTag(err)
		}
		if !ok {
			return n, nil
		}
		if err := t.Dispatch(ctx, tag, payload); err != nil {
			return n, err
		}
		n++
	}
}

// Await polls ch with backoff for exactly one message and dispatches it.
func Await(ctx context.Context, ch *ipc.Channel, b ipc.Backoff, t *Table) (Target, error) {
	tag, payload, err := ch.Poll(ctx, b)
	if err != nil {
		return 0, wrapTag(err)
	}
	return Target(tag), t.Dispatch(ctx, tag, payload)
}

func wrapTag(err error) error {
	if errors.Is(err, ipc.ErrUnknownTag) {
		return fmt.Errorf("%w: %w", ErrUnknownTarget, err)
	}
	return err
}
