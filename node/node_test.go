package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"render-compositor/gpu"
	"render-compositor/gpu/gputest"
	"render-compositor/handle"
	"render-compositor/ipc"
	"render-compositor/math"
	"render-compositor/protocol"
)

// fakeParent completes every submission immediately.
type fakeParent struct {
	*gputest.Device
	frames []ParentFrame
	err    error
}

func (f *fakeParent) RenderFrame(fr *ParentFrame) error {
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, *fr)
	fr.Timeline.(*gputest.Semaphore).Signal(fr.Signal)
	return nil
}

// fakeChild stamps the frame number into the color image and completes
// the submission.
type fakeChild struct {
	*gputest.Device
	frames []ChildFrame
}

func (f *fakeChild) RenderFrame(fr *ChildFrame) error {
	f.frames = append(f.frames, *fr)
	fr.Target[gpu.Color].(*gputest.Image).Pixels()[0] = byte(fr.Index + 1)
	fr.Timeline.(*gputest.Semaphore).Signal(fr.Signal)
	return nil
}

type session struct {
	drv    *gputest.Driver
	pdev   *fakeParent
	cdev   *fakeChild
	parent *Parent
	child  *Child
}

func newSession(t *testing.T) *session {
	t.Helper()
	s := &session{drv: gputest.NewDriver()}
	s.pdev = &fakeParent{Device: s.drv.NewDevice()}
	s.cdev = &fakeChild{Device: s.drv.NewDevice()}

	buf := make([]byte, ipc.RegionSize(ipc.DefaultCapacity))
	pch, err := ipc.NewChannel(buf, true, protocol.Sizes)
	if err != nil {
		t.Fatal(err)
	}
	cch, err := ipc.NewChannel(buf, false, protocol.Sizes)
	if err != nil {
		t.Fatal(err)
	}

	s.parent, err = NewParent(ParentConfig{
		Extent:      gpu.Extent{Width: 800, Height: 600},
		Step:        4,
		WaitTimeout: time.Second,
	}, s.pdev, pch)
	if err != nil {
		t.Fatal(err)
	}
	s.child, err = NewChild(ChildConfig{
		Handshake:    ipc.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Budget: 200 * time.Millisecond},
		WaitTimeout:  200 * time.Millisecond,
		ShutdownPoll: 10 * time.Millisecond,
	}, s.cdev, s.drv.Resolver(), cch)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.child.Close()
		s.parent.Close()
	})
	return s
}

func (s *session) handshake(t *testing.T) {
	t.Helper()
	if err := s.parent.Share(s.drv.Duplicator()); err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := s.child.Handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestHandshakeImportsEverything(t *testing.T) {
	s := newSession(t)
	s.handshake(t)

	if s.child.extent != (gpu.Extent{Width: 800, Height: 600}) {
		t.Errorf("extent = %+v", s.child.extent)
	}
	for slot := range s.child.slots {
		for a, img := range s.child.slots[slot] {
			if img == nil {
				t.Fatalf("slot %d %s not imported", slot, gpu.Attachment(a))
			}
			if img.Desc() != s.parent.slots[slot][a].Desc() {
				t.Errorf("slot %d %s: %+v != %+v", slot, gpu.Attachment(a), img.Desc(), s.parent.slots[slot][a].Desc())
			}
		}
	}
	if s.child.ownSem == nil || s.child.parentSem == nil {
		t.Fatal("timelines not imported")
	}
	if s.child.parent.Expected() != 4 {
		t.Errorf("expected after bootstrap = %d, want 4", s.child.parent.Expected())
	}
	if n := s.drv.OpenHandles(); n != 0 {
		t.Errorf("%d raw handles left open after import", n)
	}
}

func TestLockstepFrames(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 4; i++ {
		if err := s.parent.Frame(ctx, math.Mat4Identity()); err != nil {
			t.Fatalf("parent frame %d: %v", i, err)
		}
		obs, err := s.child.Frame(ctx)
		if err != nil {
			t.Fatalf("child frame %d: %v", i, err)
		}
		if obs.Overrun {
			t.Errorf("frame %d: unexpected overrun %+v", i, obs)
		}
		if obs.Value-last != 4 {
			t.Errorf("frame %d: parent advanced %d, want 4", i, obs.Value-last)
		}
		last = obs.Value
	}

	// The first parent frame had nothing to composite; later ones show the
	// slot the child finished before them.
	if s.pdev.frames[0].Composite != nil {
		t.Errorf("first frame composited %+v", s.pdev.frames[0].Composite)
	}
	for i, f := range s.pdev.frames[1:] {
		if f.Composite == nil || f.Composite.Slot != i%gpu.Slots {
			t.Errorf("parent frame %d composite = %+v, want slot %d", i+1, f.Composite, i%gpu.Slots)
		}
	}
	for i, f := range s.cdev.frames {
		if f.Slot != i%gpu.Slots || f.ParentValue != uint64(4*(i+1)) {
			t.Errorf("child frame %d = slot %d parent %d", i, f.Slot, f.ParentValue)
		}
	}

	// Child writes land in the parent's images.
	px := s.parent.slots[1][gpu.Color].(*gputest.Image).Pixels()
	if px[0] != 4 {
		t.Errorf("parent sees %d in slot 1, want child frame 4", px[0])
	}
}

func TestChildAbsorbsParentOverrun(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.parent.Frame(ctx, math.Mat4Identity()); err != nil {
			t.Fatal(err)
		}
	}
	obs, err := s.child.Frame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !obs.Overrun || obs.Value != 12 {
		t.Errorf("obs = %+v", obs)
	}
	if s.child.parent.Expected() != 16 {
		t.Errorf("expected = %d, want 16", s.child.parent.Expected())
	}
	if snap := s.child.Stats(); snap.Overruns != 1 || snap.Frames != 1 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestChildStopsOnShutdown(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	ctx := context.Background()

	s.parent.Frame(ctx, math.Mat4Identity())
	if _, err := s.child.Frame(ctx); err != nil {
		t.Fatal(err)
	}

	// The parent stops submitting and asks the child to stop.
	if err := s.parent.Shutdown(); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := s.child.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := time.Since(start); d > 150*time.Millisecond {
		t.Errorf("shutdown took %v", d)
	}
}

func TestChildTimesOutOnSilentParent(t *testing.T) {
	s := newSession(t)
	s.handshake(t)

	_, err := s.child.Frame(context.Background())
	if !errors.Is(err, gpu.ErrWaitTimeout) {
		t.Errorf("err = %v, want ErrWaitTimeout", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	s := newSession(t)
	err := s.child.Handshake(context.Background())
	if !errors.Is(err, ipc.ErrHandshakeTimeout) {
		t.Errorf("err = %v", err)
	}
}

func TestShutdownBeforeHandshake(t *testing.T) {
	s := newSession(t)
	s.parent.Shutdown()
	if err := s.child.Handshake(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Errorf("err = %v", err)
	}
}

func TestSecondHandshakeRejected(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	if err := s.parent.Share(s.drv.Duplicator()); err == nil {
		// Share itself fails on the second MarkShared; the message was
		// still sent, and the child must refuse it.
		t.Fatal("second share succeeded")
	}
	_, err := protocol.Pump(context.Background(), s.child.ch, s.child.table)
	if !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("err = %v", err)
	}
}

func TestChildDeviceLost(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	s.parent.Frame(context.Background(), math.Mat4Identity())

	s.child.parentSem.(*gputest.Semaphore).Lose()
	_, err := s.child.Frame(context.Background())
	if !errors.Is(err, gpu.ErrDeviceLost) {
		t.Fatalf("err = %v", err)
	}
	if ExitCode(err) != ExitDeviceLost {
		t.Errorf("exit code = %d", ExitCode(err))
	}
}

func TestParentRenderError(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	s.pdev.err = gpu.ErrDeviceLost
	err := s.parent.Frame(context.Background(), math.Mat4Identity())
	if !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("err = %v", err)
	}
}

func TestImportMismatch(t *testing.T) {
	s := newSession(t)
	// Share from a parent whose images disagree with what the message says.
	s.parent.cfg.Extent.Width = 640
	s.parent.Share(s.drv.Duplicator())
	err := s.child.Handshake(context.Background())
	if !errors.Is(err, handle.ErrImportParameterMismatch) {
		t.Fatalf("err = %v", err)
	}
	if s.child.slots[0][gpu.Color] != nil {
		t.Errorf("partial import left behind")
	}
}

func TestParentRejectsWideStep(t *testing.T) {
	drv := gputest.NewDriver()
	ch, err := ipc.NewChannel(make([]byte, ipc.RegionSize(ipc.DefaultCapacity)), true, protocol.Sizes)
	if err != nil {
		t.Fatal(err)
	}
	// The handshake carries the step as 32 bits; 1<<32+4 would reach the
	// child as 4.
	_, err = NewParent(ParentConfig{
		Extent: gpu.Extent{Width: 8, Height: 8},
		Step:   1<<32 + 4,
	}, &fakeParent{Device: drv.NewDevice()}, ch)
	if !errors.Is(err, ErrBadStep) {
		t.Fatalf("err = %v, want ErrBadStep", err)
	}
	if n := drv.OpenHandles(); n != 0 {
		t.Errorf("%d handles open after rejected parent", n)
	}
}

func TestHandshakeRejectsOtherDevice(t *testing.T) {
	s := newSession(t)
	s.cdev.ID = gpu.UUID{15: 1}
	if err := s.parent.Share(s.drv.Duplicator()); err != nil {
		t.Fatal(err)
	}
	err := s.child.Handshake(context.Background())
	if !errors.Is(err, handle.ErrImportParameterMismatch) {
		t.Fatalf("err = %v, want ErrImportParameterMismatch", err)
	}
	if s.child.slots[0][gpu.Color] != nil || s.child.ownSem != nil {
		t.Error("resources imported on the wrong device")
	}
}

type closingInput struct{ after int }

func (c *closingInput) PollEvents()       { c.after-- }
func (c *closingInput) ShouldClose() bool { return c.after < 0 }

type fixedCamera struct{ updates int }

func (c *fixedCamera) Update(float32)            { c.updates++ }
func (c *fixedCamera) ViewProjection() math.Mat4 { return math.Mat4Identity() }

func TestParentRunUntilClose(t *testing.T) {
	s := newSession(t)
	s.handshake(t)
	cam := &fixedCamera{}
	if err := s.parent.Run(context.Background(), &closingInput{after: 5}, cam); err != nil {
		t.Fatal(err)
	}
	if len(s.pdev.frames) != 5 || cam.updates != 5 {
		t.Errorf("frames %d, camera updates %d", len(s.pdev.frames), cam.updates)
	}
	if s.parent.Stats().Frames != 5 {
		t.Errorf("stats = %+v", s.parent.Stats())
	}
}

func TestSlotFor(t *testing.T) {
	for _, c := range []struct {
		value, step uint64
		slot        int
		ok          bool
	}{
		{0, 4, 0, false},
		{3, 4, 0, false},
		{4, 4, 0, true},
		{8, 4, 1, true},
		{12, 4, 0, true},
		{13, 4, 0, true},
		{5, 0, 0, false},
	} {
		slot, ok := SlotFor(c.value, c.step)
		if slot != c.slot || ok != c.ok {
			t.Errorf("SlotFor(%d, %d) = %d, %v", c.value, c.step, slot, ok)
		}
	}
}
