package ipc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// testSizes: tag 1 carries 3 bytes, tag 2 carries 10, tag 3 carries none.
func testSizes(tag byte) (int, bool) {
	switch tag {
	case 1:
		return 3, true
	case 2:
		return 10, true
	case 3:
		return 0, true
	}
	return 0, false
}

func newPair(t *testing.T, capacity int) (*Channel, *Channel) {
	t.Helper()
	buf := make([]byte, headerSize+capacity)
	p, err := NewChannel(buf, true, testSizes)
	if err != nil {
		t.Fatalf("producer: %v", err)
	}
	c, err := NewChannel(buf, false, testSizes)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	return p, c
}

func payloadFor(tag byte, seed int) []byte {
	n, _ := testSizes(tag)
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(seed + i)
	}
	return p
}

func TestChannelFIFO(t *testing.T) {
	p, c := newPair(t, 32)

	type msg struct {
		tag     byte
		payload []byte
	}
	var sent []msg

	// Interleave so head wraps around the 32-byte ring many times.
	for round := 0; round < 50; round++ {
		for _, tag := range []byte{1, 2, 3} {
			m := msg{tag, payloadFor(tag, round*7+int(tag))}
			if err := p.Enqueue(m.tag, m.payload); err != nil {
				t.Fatalf("round %d: Enqueue(%d): %v", round, tag, err)
			}
			sent = append(sent, m)
		}
		for len(sent) > 0 {
			tag, payload, ok, err := c.TryDequeue()
			if err != nil {
				t.Fatalf("round %d: TryDequeue: %v", round, err)
			}
			if !ok {
				t.Fatalf("round %d: ring empty with %d messages outstanding", round, len(sent))
			}
			want := sent[0]
			sent = sent[1:]
			if tag != want.tag || !bytes.Equal(payload, want.payload) {
				t.Fatalf("round %d: got (%d, %v), want (%d, %v)", round, tag, payload, want.tag, want.payload)
			}
		}
	}

	if _, _, ok, err := c.TryDequeue(); ok || err != nil {
		t.Errorf("drained ring: ok=%v err=%v, want empty", ok, err)
	}
}

func TestChannelFull(t *testing.T) {
	p, c := newPair(t, 16)

	// 11 bytes fit, a second 11 bytes does not (15 usable).
	if err := p.Enqueue(2, payloadFor(2, 0)); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	err := p.Enqueue(2, payloadFor(2, 1))
	if !errors.Is(err, ErrChannelFull) {
		t.Fatalf("second Enqueue = %v, want ErrChannelFull", err)
	}

	// The rejected message must not have touched the ring.
	tag, payload, ok, err := c.TryDequeue()
	if err != nil || !ok || tag != 2 || !bytes.Equal(payload, payloadFor(2, 0)) {
		t.Fatalf("TryDequeue = (%d, %v, %v, %v)", tag, payload, ok, err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", c.Len())
	}
	if err := p.Enqueue(2, payloadFor(2, 1)); err != nil {
		t.Errorf("Enqueue after drain: %v", err)
	}
}

func TestChannelRejects(t *testing.T) {
	p, c := newPair(t, 8)

	if err := p.Enqueue(2, payloadFor(2, 0)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized Enqueue = %v, want ErrMessageTooLarge", err)
	}
	if err := p.Enqueue(9, nil); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("unknown tag Enqueue = %v, want ErrUnknownTag", err)
	}
	if err := p.Enqueue(1, []byte{1}); !errors.Is(err, ErrPayloadSize) {
		t.Errorf("short payload Enqueue = %v, want ErrPayloadSize", err)
	}
	if err := c.Enqueue(3, nil); !errors.Is(err, ErrWrongEnd) {
		t.Errorf("consumer Enqueue = %v, want ErrWrongEnd", err)
	}
	if _, _, _, err := p.TryDequeue(); !errors.Is(err, ErrWrongEnd) {
		t.Errorf("producer TryDequeue = %v, want ErrWrongEnd", err)
	}
}

func TestConsumerBeforeProducer(t *testing.T) {
	buf := make([]byte, headerSize+32)
	if _, err := NewChannel(buf, false, testSizes); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("NewChannel on zeroed region = %v, want ErrChannelNotFound", err)
	}

	buf[0] = 0xff
	if _, err := NewChannel(buf, false, testSizes); !errors.Is(err, ErrChannelCorrupt) {
		t.Fatalf("NewChannel on garbage = %v, want ErrChannelCorrupt", err)
	}
}

func TestTryDequeueUnknownTag(t *testing.T) {
	p, c := newPair(t, 32)
	if err := p.Enqueue(3, nil); err != nil {
		t.Fatal(err)
	}
	// Simulate a peer built with a different tag table.
	c.ring[0] = 42
	if _, _, _, err := c.TryDequeue(); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("TryDequeue = %v, want ErrUnknownTag", err)
	}
}

func TestPollTimeout(t *testing.T) {
	_, c := newPair(t, 32)
	b := Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Budget: 10 * time.Millisecond}

	start := time.Now()
	_, _, err := c.Poll(context.Background(), b)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Poll = %v, want ErrHandshakeTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Poll took %v, budget was %v", time.Since(start), b.Budget)
	}
}

func TestPollReceivesLateMessage(t *testing.T) {
	p, c := newPair(t, 32)
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.Enqueue(1, []byte{7, 8, 9})
	}()

	tag, payload, err := c.Poll(context.Background(), Backoff{Initial: time.Millisecond, Max: time.Millisecond, Budget: 5 * time.Second})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if tag != 1 || !bytes.Equal(payload, []byte{7, 8, 9}) {
		t.Errorf("Poll = (%d, %v)", tag, payload)
	}
}

func TestPollCancelled(t *testing.T) {
	_, c := newPair(t, 32)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.Poll(ctx, Backoff{Initial: time.Millisecond, Budget: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Poll = %v, want context.Canceled", err)
	}
}

func TestClosedChannel(t *testing.T) {
	p, c := newPair(t, 32)
	p.Close()
	c.Close()
	if err := p.Enqueue(3, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v", err)
	}
	if _, _, _, err := c.TryDequeue(); !errors.Is(err, ErrClosed) {
		t.Errorf("TryDequeue after Close = %v", err)
	}
}
