package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"render-compositor/gpu"
	"render-compositor/handle"
	"render-compositor/ipc"
	"render-compositor/logging"
	"render-compositor/protocol"
	"render-compositor/timeline"
)

type ChildConfig struct {
	Handshake   ipc.Backoff
	WaitTimeout time.Duration
	// ShutdownPoll is how often a wait on the parent stops to look for a
	// Shutdown message.
	ShutdownPoll  time.Duration
	StatsInterval time.Duration
}

// Child imports the parent's resources and renders into them.
type Child struct {
	cfg   ChildConfig
	dev   ChildRenderer
	res   handle.Resolver
	ch    *ipc.Channel
	table *protocol.Table

	extent    gpu.Extent
	slots     [gpu.Slots]gpu.FramebufferSet
	ownSem    gpu.Semaphore
	parentSem gpu.Semaphore
	own       *timeline.Timeline
	parent    *timeline.Peer

	imported bool
	stop     bool
	frame    uint64
	stats    *Stats
}

// NewChild prepares a child over the consumer end ch. Handles in messages
// are resolved through res. The Child closes ch and res.
func NewChild(cfg ChildConfig, dev ChildRenderer, res handle.Resolver, ch *ipc.Channel) (*Child, error) {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = timeline.DefaultTimeout
	}
	if cfg.ShutdownPoll <= 0 {
		cfg.ShutdownPoll = 50 * time.Millisecond
	}
	c := &Child{
		cfg:   cfg,
		dev:   dev,
		res:   res,
		ch:    ch,
		stats: NewStats("child", cfg.StatsInterval),
	}

	var b protocol.Builder
	if err := protocol.On(&b, c.importNodeParent); err != nil {
		return nil, err
	}
	if err := protocol.On(&b, c.shutdown); err != nil {
		return nil, err
	}
	c.table = b.Build()
	return c, nil
}

// Handshake polls for the parent's ImportNodeParent message and imports
// everything it carries.
func (c *Child) Handshake(ctx context.Context) error {
	target, err := protocol.Await(ctx, c.ch, c.cfg.Handshake, c.table)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if c.stop {
		return ErrShutdown
	}
	if target != protocol.TargetImportNodeParent {
		return fmt.Errorf("%w: %s before handshake", ErrUnexpectedMessage, target)
	}
	return nil
}

func (c *Child) importNodeParent(_ context.Context, m *protocol.ImportNodeParent) error {
	if c.imported {
		return fmt.Errorf("%w: second %s", ErrUnexpectedMessage, m.Target())
	}
	if m.TimelineStep == 0 || m.Width == 0 || m.Height == 0 {
		return fmt.Errorf("%w: step %d extent %dx%d", handle.ErrImportParameterMismatch, m.TimelineStep, m.Width, m.Height)
	}
	if id := c.dev.UUID(); id != m.DeviceUUID {
		return fmt.Errorf("%w: parent device %x, child device %x", handle.ErrImportParameterMismatch, m.DeviceUUID[:], id[:])
	}
	if err := c.importAll(m); err != nil {
		c.destroy()
		return err
	}
	c.imported = true
	c.extent = m.Extent()

	observed, err := c.parent.Bootstrap()
	if err != nil {
		return fmt.Errorf("bootstrap parent timeline: %w", err)
	}
	logging.Logger().Info("imported node resources",
		"width", m.Width, "height", m.Height, "step", m.TimelineStep,
		"parent_value", observed, "expected", c.parent.Expected())
	return nil
}

func (c *Child) importAll(m *protocol.ImportNodeParent) error {
	for s := range m.Slots {
		for a := gpu.Color; a < gpu.AttachmentCount; a++ {
			img, err := c.importImage(m.Slots[s][a].Handle, m.Desc(s, a))
			if err != nil {
				return fmt.Errorf("import slot %d %s: %w", s, a, err)
			}
			c.slots[s][a] = img
		}
	}

	var err error
	if c.ownSem, err = c.importTimeline(m.ChildTimeline.Handle); err != nil {
		return fmt.Errorf("import child timeline: %w", err)
	}
	if c.parentSem, err = c.importTimeline(m.ParentTimeline.Handle); err != nil {
		return fmt.Errorf("import parent timeline: %w", err)
	}

	step := uint64(m.TimelineStep)
	if c.own, err = timeline.NewImported(c.ownSem, step); err != nil {
		return err
	}
	c.own.Timeout = c.cfg.WaitTimeout
	c.parent = timeline.NewPeer(c.parentSem, step)
	c.parent.Timeout = c.cfg.ShutdownPoll
	return nil
}

func (c *Child) importImage(h handle.Handle, want handle.Desc) (gpu.Image, error) {
	raw, err := c.res.Resolve(h)
	if err != nil {
		return nil, err
	}
	imp := handle.NewImported(raw, handle.KindMemory)
	defer imp.Release()
	return c.dev.ImportImage(imp, want)
}

func (c *Child) importTimeline(h handle.Handle) (gpu.Semaphore, error) {
	raw, err := c.res.Resolve(h)
	if err != nil {
		return nil, err
	}
	imp := handle.NewImported(raw, handle.KindSemaphore)
	defer imp.Release()
	return c.dev.ImportTimeline(imp)
}

func (c *Child) shutdown(context.Context, *protocol.Shutdown) error {
	c.stop = true
	return nil
}

// Frame runs one iteration: wait for the previous submission, check for
// Shutdown, sync against the parent, then render the next slot. It returns
// what it saw of the parent's timeline.
func (c *Child) Frame(ctx context.Context) (timeline.Observation, error) {
	if !c.imported {
		return timeline.Observation{}, fmt.Errorf("%w: frame before handshake", ErrUnexpectedMessage)
	}
	if c.stop {
		return timeline.Observation{}, ErrShutdown
	}
	begin := c.stats.Begin()

	wait, signal := c.own.Advance()
	if err := c.own.Wait(ctx, wait); err != nil {
		return timeline.Observation{}, fmt.Errorf("wait child timeline: %w", err)
	}
	if err := c.pump(ctx); err != nil {
		return timeline.Observation{}, err
	}

	obs, err := c.syncParent(ctx)
	if err != nil {
		return obs, err
	}

	slot := int(c.frame % gpu.Slots)
	f := &ChildFrame{
		Index:       c.frame,
		Slot:        slot,
		Target:      c.slots[slot],
		Timeline:    c.ownSem,
		Wait:        wait,
		Signal:      signal,
		ParentValue: obs.Value,
	}
	if err := c.dev.RenderFrame(f); err != nil {
		return obs, fmt.Errorf("child frame %d: %w", c.frame, err)
	}

	c.frame++
	c.stats.End(begin, obs)
	return obs, nil
}

func (c *Child) pump(ctx context.Context) error {
	if _, err := protocol.Pump(ctx, c.ch, c.table); err != nil {
		return err
	}
	if c.stop {
		return ErrShutdown
	}
	return nil
}

// syncParent waits on the parent's timeline in ShutdownPoll slices so a
// parent that stopped submitting and sent Shutdown is noticed promptly.
func (c *Child) syncParent(ctx context.Context) (timeline.Observation, error) {
	deadline := time.Now().Add(c.cfg.WaitTimeout)
	for {
		obs, err := c.parent.Sync(ctx)
		if !errors.Is(err, gpu.ErrWaitTimeout) {
			if err != nil {
				err = fmt.Errorf("sync parent timeline: %w", err)
			}
			return obs, err
		}
		if perr := c.pump(ctx); perr != nil {
			return obs, perr
		}
		if !time.Now().Before(deadline) {
			return obs, fmt.Errorf("sync parent timeline: %w", err)
		}
	}
}

// Run loops until Shutdown arrives or ctx is done, both of which are a
// normal exit.
func (c *Child) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.Frame(ctx); err != nil {
			if errors.Is(err, ErrShutdown) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Child) Stats() Snapshot { return c.stats.Snapshot() }

// Close drains the device and releases everything the Child imported.
func (c *Child) Close() error {
	err := c.dev.WaitIdle()
	c.destroy()
	if cerr := c.res.Close(); err == nil {
		err = cerr
	}
	if c.ch != nil {
		if cerr := c.ch.Close(); err == nil {
			err = cerr
		}
		c.ch = nil
	}
	return err
}

func (c *Child) destroy() {
	for s := range c.slots {
		c.slots[s].Destroy()
	}
	if c.ownSem != nil {
		c.ownSem.Destroy()
		c.ownSem = nil
	}
	if c.parentSem != nil {
		c.parentSem.Destroy()
		c.parentSem = nil
	}
}
