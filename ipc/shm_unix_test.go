//go:build unix

package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func testName(t *testing.T) string {
	return fmt.Sprintf("render-compositor-test-%d-%s", os.Getpid(), t.Name())
}

func TestOpenBeforeCreate(t *testing.T) {
	_, err := Open(testName(t), testSizes)
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("Open = %v, want ErrChannelNotFound", err)
	}
}

func TestSharedRoundTrip(t *testing.T) {
	name := testName(t)
	p, err := Create(name, 64, testSizes)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	if _, err := Create(name, 64, testSizes); !errors.Is(err, ErrChannelCreationFailed) {
		t.Errorf("second Create = %v, want ErrChannelCreationFailed", err)
	}

	c, err := OpenWait(context.Background(), name, testSizes, Backoff{Initial: time.Millisecond, Budget: time.Second})
	if err != nil {
		t.Fatalf("OpenWait: %v", err)
	}
	defer c.Close()

	if c.Capacity() != 64 {
		t.Errorf("consumer Capacity() = %d, want 64", c.Capacity())
	}
	if err := p.Enqueue(1, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	tag, payload, ok, err := c.TryDequeue()
	if err != nil || !ok || tag != 1 || len(payload) != 3 || payload[2] != 3 {
		t.Fatalf("TryDequeue = (%d, %v, %v, %v)", tag, payload, ok, err)
	}
}

func TestProducerCloseRemovesRegion(t *testing.T) {
	name := testName(t)
	p, err := Create(name, 64, testSizes)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := Open(name, testSizes); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Open after producer Close = %v, want ErrChannelNotFound", err)
	}
}
