// Package node runs the two render loops of a compositing session. The
// parent owns the window, the shared framebuffers and both timelines; the
// child imports them and renders into the framebuffers the parent
// composites. Each loop paces itself against the other's timeline.
package node

import (
	"errors"

	"render-compositor/gpu"
	"render-compositor/math"
)

var (
	// ErrShutdown is returned by the child loop when the parent asked it
	// to stop.
	ErrShutdown = errors.New("node: shutdown requested")

	ErrUnexpectedMessage = errors.New("node: unexpected message")
	ErrChildExited       = errors.New("node: child exited")
	ErrChildDeviceLost   = errors.New("node: child lost its device")

	// ErrBadStep is returned for a timeline step the handshake cannot carry.
	ErrBadStep = errors.New("node: timeline step must be within 1..MaxUint32")
)

// Environment handed to the child process.
const (
	EnvChannel = "RENDER_COMPOSITOR_CHANNEL"
	EnvSession = "RENDER_COMPOSITOR_SESSION"
)

// ExitDeviceLost is the child's exit status after a lost device, so a
// supervisor can tell it apart from a crash and respawn.
const ExitDeviceLost = 3

// ExitCode maps a loop error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, gpu.ErrDeviceLost):
		return ExitDeviceLost
	}
	return 1
}

// SlotFor returns the framebuffer slot the child finished last, given its
// timeline value. The child renders frame k into slot k%Slots and signals
// (k+1)*step.
func SlotFor(value, step uint64) (int, bool) {
	if step == 0 || value < step {
		return 0, false
	}
	return int((value/step - 1) % gpu.Slots), true
}

// Input is the parent's window as the loop sees it.
type Input interface {
	PollEvents()
	ShouldClose() bool
}

// Camera is advanced once per parent frame.
type Camera interface {
	Update(dt float32)
	ViewProjection() math.Mat4
}

// Composite tells the parent renderer which finished child framebuffer to
// draw.
type Composite struct {
	Slot int
	Set  gpu.FramebufferSet

	// The child's timeline and the value it reached; the submission waits
	// on it so the child's writes are visible.
	Peer      gpu.Semaphore
	PeerValue uint64
}

// ParentFrame is one parent submission.
type ParentFrame struct {
	Index          uint64
	Timeline       gpu.Semaphore
	Wait, Signal   uint64
	ViewProjection math.Mat4
	Composite      *Composite // nil until the child finished a frame
}

// ParentRenderer records the scene and composite passes, submits them
// against the frame's timeline values and presents.
type ParentRenderer interface {
	gpu.Device
	RenderFrame(f *ParentFrame) error
}

// ChildFrame is one child submission into a shared framebuffer set.
type ChildFrame struct {
	Index        uint64
	Slot         int
	Target       gpu.FramebufferSet
	Timeline     gpu.Semaphore
	Wait, Signal uint64
	ParentValue  uint64
}

// ChildRenderer records the child's pass into the imported framebuffers.
type ChildRenderer interface {
	gpu.Device
	RenderFrame(f *ChildFrame) error
}
