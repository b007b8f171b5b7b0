package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"render-compositor/gpu"
	"render-compositor/gpu/gputest"
)

func TestAdvance(t *testing.T) {
	sem := gputest.NewSemaphore(8)
	tl, err := NewImported(sem, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range [][2]uint64{{8, 12}, {12, 16}, {16, 20}} {
		w, s := tl.Advance()
		if w != want[0] || s != want[1] {
			t.Errorf("advance %d = (%d, %d), want %v", i, w, s, want)
		}
	}
	if tl.Pending() != 20 {
		t.Errorf("pending = %d", tl.Pending())
	}
	if _, err := NewImported(sem, 0); err == nil {
		t.Errorf("zero step accepted")
	}
}

func TestTransitions(t *testing.T) {
	drv := gputest.NewDriver()
	sem, _ := drv.NewDevice().CreateTimeline(0)
	tl, err := NewLocal(sem, 1)
	if err != nil {
		t.Fatal(err)
	}
	if tl.State() != Local {
		t.Fatalf("state = %s", tl.State())
	}
	if err := tl.MarkShared(); err != nil {
		t.Fatal(err)
	}
	if err := tl.MarkShared(); !errors.Is(err, ErrBadTransition) {
		t.Errorf("shared twice: %v", err)
	}

	imp, _ := NewImported(gputest.NewSemaphore(0), 1)
	if err := imp.MarkShared(); !errors.Is(err, ErrBadTransition) {
		t.Errorf("imported -> shared: %v", err)
	}
}

func TestWaitBounded(t *testing.T) {
	sem := gputest.NewSemaphore(0)
	tl, _ := NewImported(sem, 1)
	tl.Timeout = 20 * time.Millisecond

	start := time.Now()
	if err := tl.Wait(context.Background(), 1); !errors.Is(err, gpu.ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("bounded wait took %v", d)
	}

	tl.Timeout = -1
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	if err := tl.Wait(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	sem.Signal(1)
	if err := tl.Wait(context.Background(), 1); err != nil {
		t.Errorf("wait on reached value: %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	sem := gputest.NewSemaphore(36)
	p := NewPeer(sem, 4)
	obs, err := p.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	if obs != 36 || p.Expected() != 40 {
		t.Errorf("observed %d, expected %d; want 36, 40", obs, p.Expected())
	}
}

func TestSyncOverrunDoesNotBlock(t *testing.T) {
	sem := gputest.NewSemaphore(0)
	p := NewPeer(sem, 4)
	p.Bootstrap()
	p.Timeout = -1 // a blocking wait would hang the test

	// The peer finished late: it is already three frames past.
	sem.Signal(16)
	obs, err := p.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !obs.Ready || !obs.Overrun || obs.Value != 16 {
		t.Errorf("obs = %+v", obs)
	}
	if p.Expected() != 20 {
		t.Errorf("expected = %d, want 20", p.Expected())
	}

	// Exactly on time is ready but not an overrun.
	sem.Signal(20)
	obs, _ = p.Sync(context.Background())
	if !obs.Ready || obs.Overrun || p.Expected() != 24 {
		t.Errorf("obs = %+v, expected %d", obs, p.Expected())
	}
}

func TestSyncWaitsForPeer(t *testing.T) {
	sem := gputest.NewSemaphore(0)
	p := NewPeer(sem, 4)
	p.Bootstrap()

	time.AfterFunc(10*time.Millisecond, func() { sem.Signal(4) })
	obs, err := p.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if obs.Ready || obs.Value != 4 || p.Expected() != 8 {
		t.Errorf("obs = %+v, expected %d", obs, p.Expected())
	}

	p.Timeout = 10 * time.Millisecond
	if _, err := p.Sync(context.Background()); !errors.Is(err, gpu.ErrWaitTimeout) {
		t.Errorf("err = %v", err)
	}
	if p.Expected() != 8 {
		t.Errorf("timed out sync moved expectation to %d", p.Expected())
	}
}

// The peer advances one step per frame; every Sync sees exactly that.
func TestSyncTracksPeerSteps(t *testing.T) {
	const step = 4
	sem := gputest.NewSemaphore(100)
	p := NewPeer(sem, step)
	first, _ := p.Bootstrap()

	for frame := uint64(1); frame <= 4; frame++ {
		sem.Signal(first + frame*step)
		obs, err := p.Sync(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if obs.Value != first+frame*step || obs.Overrun {
			t.Errorf("frame %d: obs = %+v", frame, obs)
		}
	}
}

func TestPoll(t *testing.T) {
	sem := gputest.NewSemaphore(0)
	p := NewPeer(sem, 2)
	p.Bootstrap()

	obs, err := p.Poll()
	if err != nil || obs.Ready {
		t.Fatalf("obs = %+v, %v", obs, err)
	}
	if p.Expected() != 2 {
		t.Errorf("late poll moved expectation to %d", p.Expected())
	}

	sem.Signal(6)
	obs, _ = p.Poll()
	if !obs.Ready || !obs.Overrun || p.Expected() != 8 {
		t.Errorf("obs = %+v, expected %d", obs, p.Expected())
	}

	sem.Lose()
	if _, err := p.Poll(); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("err = %v", err)
	}
}
