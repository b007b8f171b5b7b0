package node

import (
	"context"
	"errors"
	"fmt"
	stdmath "math"
	"time"

	"github.com/loov/hrtime"

	"render-compositor/gpu"
	"render-compositor/handle"
	"render-compositor/ipc"
	"render-compositor/logging"
	"render-compositor/math"
	"render-compositor/protocol"
	"render-compositor/timeline"
)

type ParentConfig struct {
	Extent        gpu.Extent
	Step          uint64
	WaitTimeout   time.Duration
	StatsInterval time.Duration
}

// Parent owns the shared resources and runs the presenting loop.
type Parent struct {
	cfg ParentConfig
	dev ParentRenderer
	ch  *ipc.Channel

	slots    [gpu.Slots]gpu.FramebufferSet
	ownSem   gpu.ExportableSemaphore
	childSem gpu.ExportableSemaphore

	own     *timeline.Timeline
	childTL *timeline.Timeline
	child   *timeline.Peer

	frame      uint64
	slot       int
	childValue uint64
	stats      *Stats
}

// NewParent allocates both framebuffer sets and both timelines on dev. ch
// is the producer end of the channel to the child; the Parent closes it,
// also when NewParent fails.
func NewParent(cfg ParentConfig, dev ParentRenderer, ch *ipc.Channel) (*Parent, error) {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = timeline.DefaultTimeout
	}
	if cfg.Step == 0 || cfg.Step > stdmath.MaxUint32 {
		if ch != nil {
			ch.Close()
		}
		return nil, fmt.Errorf("%w: got %d", ErrBadStep, cfg.Step)
	}
	p := &Parent{
		cfg:   cfg,
		dev:   dev,
		ch:    ch,
		slot:  -1,
		stats: NewStats("parent", cfg.StatsInterval),
	}
	if err := p.create(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Parent) create() error {
	for s := range p.slots {
		set, err := gpu.CreateFramebufferSet(p.dev, p.cfg.Extent)
		if err != nil {
			return fmt.Errorf("framebuffer set %d: %w", s, err)
		}
		p.slots[s] = set
	}

	var err error
	if p.ownSem, err = p.dev.CreateTimeline(0); err != nil {
		return fmt.Errorf("parent timeline: %w", err)
	}
	if p.childSem, err = p.dev.CreateTimeline(0); err != nil {
		return fmt.Errorf("child timeline: %w", err)
	}
	if p.own, err = timeline.NewLocal(p.ownSem, p.cfg.Step); err != nil {
		return err
	}
	if p.childTL, err = timeline.NewLocal(p.childSem, p.cfg.Step); err != nil {
		return err
	}
	p.own.Timeout = p.cfg.WaitTimeout

	p.child = timeline.NewPeer(p.childSem, p.cfg.Step)
	_, err = p.child.Bootstrap()
	return err
}

// Share duplicates every shared handle into the child behind dup and sends
// them in one ImportNodeParent message.
func (p *Parent) Share(dup handle.Duplicator) error {
	m := &protocol.ImportNodeParent{
		Width:        p.cfg.Extent.Width,
		Height:       p.cfg.Extent.Height,
		TimelineStep: uint32(p.cfg.Step),
		DeviceUUID:   p.dev.UUID(),
	}
	for s, set := range p.slots {
		for a, img := range set {
			res, err := export(img, dup)
			if err != nil {
				return fmt.Errorf("share slot %d %s: %w", s, gpu.Attachment(a), err)
			}
			m.Slots[s][a] = res
			m.Formats[a] = img.Desc().Format
		}
	}

	var err error
	if m.ParentTimeline, err = export(p.ownSem, dup); err != nil {
		return fmt.Errorf("share parent timeline: %w", err)
	}
	if m.ChildTimeline, err = export(p.childSem, dup); err != nil {
		return fmt.Errorf("share child timeline: %w", err)
	}
	if err := protocol.Send(p.ch, m); err != nil {
		return err
	}
	if err := p.own.MarkShared(); err != nil {
		return err
	}
	if err := p.childTL.MarkShared(); err != nil {
		return err
	}

	logging.Logger().Info("shared node resources",
		"width", m.Width, "height", m.Height, "slots", gpu.Slots, "step", m.TimelineStep)
	return nil
}

func export(obj any, dup handle.Duplicator) (protocol.Resource, error) {
	exp, ok := obj.(handle.Exportable)
	if !ok {
		return protocol.Resource{}, handle.ErrNotExportable
	}
	h, err := handle.ExportTo(exp, dup)
	if err != nil {
		return protocol.Resource{}, err
	}
	return protocol.Resource{Handle: h, Size: exp.Desc().Size}, nil
}

// Frame runs one iteration: wait for the previous submission, pick the
// child framebuffer to composite, record, submit and present.
func (p *Parent) Frame(ctx context.Context, viewProj math.Mat4) error {
	begin := p.stats.Begin()

	wait, signal := p.own.Advance()
	if err := p.own.Wait(ctx, wait); err != nil {
		return fmt.Errorf("wait parent timeline: %w", err)
	}

	obs, err := p.child.Poll()
	if err != nil {
		return fmt.Errorf("poll child timeline: %w", err)
	}
	if obs.Ready {
		if slot, ok := SlotFor(obs.Value, p.cfg.Step); ok {
			p.slot, p.childValue = slot, obs.Value
		}
	}

	f := &ParentFrame{
		Index:          p.frame,
		Timeline:       p.ownSem,
		Wait:           wait,
		Signal:         signal,
		ViewProjection: viewProj,
	}
	if p.slot >= 0 {
		f.Composite = &Composite{
			Slot:      p.slot,
			Set:       p.slots[p.slot],
			Peer:      p.childSem,
			PeerValue: p.childValue,
		}
	}
	if err := p.dev.RenderFrame(f); err != nil {
		return fmt.Errorf("parent frame %d: %w", p.frame, err)
	}

	p.frame++
	p.stats.End(begin, obs)
	return nil
}

// Run loops until the window closes or ctx is done. A cancelled ctx is a
// normal exit.
func (p *Parent) Run(ctx context.Context, in Input, cam Camera) error {
	last := hrtime.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		in.PollEvents()
		if in.ShouldClose() {
			return nil
		}

		now := hrtime.Now()
		cam.Update(float32((now - last).Seconds()))
		last = now

		if err := p.Frame(ctx, cam.ViewProjection()); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
	}
}

// Shutdown asks the child to leave its loop.
func (p *Parent) Shutdown() error {
	return protocol.Send(p.ch, &protocol.Shutdown{})
}

func (p *Parent) Stats() Snapshot { return p.stats.Snapshot() }

// Close drains the device and releases everything the Parent created.
func (p *Parent) Close() error {
	err := p.dev.WaitIdle()
	p.destroy()
	if p.ch != nil {
		if cerr := p.ch.Close(); err == nil {
			err = cerr
		}
		p.ch = nil
	}
	return err
}

func (p *Parent) destroy() {
	for s := range p.slots {
		p.slots[s].Destroy()
	}
	if p.ownSem != nil {
		p.ownSem.Destroy()
		p.ownSem = nil
	}
	if p.childSem != nil {
		p.childSem.Destroy()
		p.childSem = nil
	}
}
