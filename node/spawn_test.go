package node

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"
)

const envHelper = "NODE_TEST_HELPER_EXIT"

// TestHelperProcess is the child body for the spawn tests. It exits with
// the status named in envHelper.
func TestHelperProcess(t *testing.T) {
	code := os.Getenv(envHelper)
	if code == "" {
		return
	}
	if os.Getenv(EnvChannel) != "test-channel" || os.Getenv(EnvSession) != "test-session" {
		os.Exit(100)
	}
	if code == "hang" {
		time.Sleep(time.Minute)
	}
	n, _ := strconv.Atoi(code)
	os.Exit(n)
}

func spawnHelper(t *testing.T, exit string) *Process {
	t.Helper()
	t.Setenv(envHelper, exit)
	p, err := Spawn(os.Args[0], []string{"-test.run=^TestHelperProcess$"}, "test-channel", "test-session")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSpawnCleanExit(t *testing.T) {
	p := spawnHelper(t, "0")
	if err := p.Wait(); err != nil {
		t.Errorf("wait: %v", err)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestSpawnDeviceLost(t *testing.T) {
	p := spawnHelper(t, strconv.Itoa(ExitDeviceLost))
	defer p.Stop(time.Second)
	if err := p.Wait(); !errors.Is(err, ErrChildDeviceLost) {
		t.Errorf("wait: %v", err)
	}
}

func TestStopKillsHungChild(t *testing.T) {
	p := spawnHelper(t, "hang")
	start := time.Now()
	p.Stop(50 * time.Millisecond)
	if d := time.Since(start); d > 10*time.Second {
		t.Errorf("stop took %v", d)
	}
	select {
	case <-p.Done():
	default:
		t.Error("child still running after Stop")
	}
}

func TestSuperviseStopsWhenChildExits(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	child := spawnHelper(t, "1")

	in := &closingInput{after: 1 << 30}
	err := Supervise(context.Background(), s.parent, child, in, &fixedCamera{}, time.Second)
	if err == nil {
		t.Fatal("child crash not reported")
	}
}

func TestSuperviseStopsChildOnClose(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	child := spawnHelper(t, "hang")

	err := Supervise(context.Background(), s.parent, child, &closingInput{after: 3}, &fixedCamera{}, 50*time.Millisecond)
	if err == nil {
		t.Error("killed child not reported")
	}
	if len(s.pdev.frames) != 3 {
		t.Errorf("frames = %d", len(s.pdev.frames))
	}
}
