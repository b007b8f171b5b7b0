// Package gputest provides an in-memory implementation of gpu.Device for
// tests. Two devices created from one Driver behave like two processes on
// the same GPU: handles exported by one can be duplicated and imported by
// the other, and both then see the same memory and counters.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"render-compositor/gpu"
	"render-compositor/handle"
)

// Formats mirror the Vulkan formats the real backend picks.
var Formats = [gpu.AttachmentCount]uint32{
	gpu.Color:   37,  // R8G8B8A8_UNORM
	gpu.Normal:  97,  // R16G16B16A16_SFLOAT
	gpu.GBuffer: 97,  // R16G16B16A16_SFLOAT
	gpu.Depth:   126, // D32_SFLOAT
}

var bytesPerPixel = [gpu.AttachmentCount]uint64{4, 8, 8, 4}

type object struct {
	desc handle.Desc
	mem  []byte
	sem  *Semaphore
}

// Driver is the shared OS handle table and GPU memory.
type Driver struct {
	mu      sync.Mutex
	handles map[uintptr]*object
	next    uintptr

	// TakesOwnership mirrors unix fd semantics: a successful import
	// consumes the handle. When false the importer keeps and closes it.
	TakesOwnership bool

	// UUID is given to every device made after it is set.
	UUID gpu.UUID
}

func NewDriver() *Driver {
	return &Driver{
		handles:        make(map[uintptr]*object),
		next:           1000,
		TakesOwnership: true,
		UUID:           gpu.UUID{0x67, 0x70, 0x75, 0x74, 0x65, 0x73, 0x74},
	}
}

func (d *Driver) open(o *object) handle.Raw {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.handles[d.next] = o
	return handle.RawWith(d.next, d.close)
}

func (d *Driver) close(v uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handles[v]; !ok {
		return fmt.Errorf("gputest: close of invalid handle %d", v)
	}
	delete(d.handles, v)
	return nil
}

func (d *Driver) lookup(v uintptr) (*object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.handles[v]
	return o, ok
}

// OpenHandles counts handles that are still open.
func (d *Driver) OpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

// Duplicator returns a handle.Duplicator whose target is any device of d.
// Closing the duplicator makes later duplicates fail, like a dead child.
func (d *Driver) Duplicator() *Duplicator { return &Duplicator{drv: d} }

type Duplicator struct {
	drv    *Driver
	closed bool
}

func (p *Duplicator) Duplicate(local handle.Raw) (handle.Handle, error) {
	if p.closed {
		return 0, fmt.Errorf("%w: target closed", handle.ErrHandleDuplicationFailed)
	}
	o, ok := p.drv.lookup(local.Value)
	if !ok {
		return 0, fmt.Errorf("%w: invalid source handle %d", handle.ErrHandleDuplicationFailed, local.Value)
	}
	return handle.Handle(p.drv.open(o).Value), nil
}

func (p *Duplicator) Close() error {
	p.closed = true
	return nil
}

// Resolver returns the identity resolver for duplicates made by d.
func (d *Driver) Resolver() handle.Resolver { return resolver{d} }

type resolver struct{ drv *Driver }

func (r resolver) Resolve(h handle.Handle) (handle.Raw, error) {
	if _, ok := r.drv.lookup(uintptr(h)); !ok {
		return handle.Raw{}, fmt.Errorf("%w: unknown handle %d", handle.ErrHandleDuplicationFailed, h)
	}
	return handle.RawWith(uintptr(h), r.drv.close), nil
}

func (resolver) Close() error { return nil }

// Device is one process's view of the driver.
type Device struct {
	drv *Driver

	mu        sync.Mutex
	idleWaits int
	lost      bool

	// NoExport makes CreateImage/CreateTimeline return objects that were
	// not created exportable.
	NoExport bool
	ID       gpu.UUID
}

var _ gpu.Device = (*Device)(nil)

func (d *Driver) NewDevice() *Device { return &Device{drv: d, ID: d.UUID} }

func (d *Device) UUID() gpu.UUID { return d.ID }

// Image is an in-memory image. Images imported from the same export share
// Pixels.
type Image struct {
	drv        *Driver
	obj        *object
	exportable bool
}

func (i *Image) Desc() handle.Desc { return i.obj.desc }
func (i *Image) Pixels() []byte    { return i.obj.mem }
func (i *Image) Destroy()          {}

func (i *Image) Export() (handle.Raw, error) {
	if !i.exportable {
		return handle.Raw{}, handle.ErrNotExportable
	}
	return i.drv.open(i.obj), nil
}

func (d *Device) CreateImage(a gpu.Attachment, e gpu.Extent) (gpu.ExportableImage, error) {
	if e.Width == 0 || e.Height == 0 {
		return nil, fmt.Errorf("gputest: empty extent %dx%d", e.Width, e.Height)
	}
	size := uint64(e.Width) * uint64(e.Height) * bytesPerPixel[a]
	obj := &object{
		desc: handle.Desc{Kind: handle.KindMemory, Size: size, Format: Formats[a], Width: e.Width, Height: e.Height},
		mem:  make([]byte, size),
	}
	return &Image{drv: d.drv, obj: obj, exportable: !d.NoExport}, nil
}

func (d *Device) CreateTimeline(initial uint64) (gpu.ExportableSemaphore, error) {
	s := newSemaphore(d.drv, initial, !d.NoExport)
	s.obj = &object{desc: handle.Desc{Kind: handle.KindSemaphore}, sem: s}
	return s, nil
}

func (d *Device) consume(imp *handle.Imported, want handle.Desc) (*object, error) {
	if imp.Kind() != want.Kind {
		return nil, fmt.Errorf("%w: handle is %s, want %s", handle.ErrImportParameterMismatch, imp.Kind(), want.Kind)
	}
	var obj *object
	err := imp.Consume(func(raw uintptr) (bool, error) {
		o, ok := d.drv.lookup(raw)
		if !ok {
			return false, fmt.Errorf("%w: invalid handle %d", handle.ErrHandleDuplicationFailed, raw)
		}
		if err := handle.CheckDesc(o.desc, want); err != nil {
			return false, err
		}
		obj = o
		if d.drv.TakesOwnership {
			return true, d.drv.close(raw)
		}
		return false, nil
	})
	return obj, err
}

func (d *Device) ImportImage(imp *handle.Imported, want handle.Desc) (gpu.Image, error) {
	obj, err := d.consume(imp, want)
	if err != nil {
		return nil, err
	}
	return &Image{drv: d.drv, obj: obj}, nil
}

func (d *Device) ImportTimeline(imp *handle.Imported) (gpu.Semaphore, error) {
	obj, err := d.consume(imp, handle.Desc{Kind: handle.KindSemaphore})
	if err != nil {
		return nil, err
	}
	return obj.sem, nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idleWaits++
	if d.lost {
		return gpu.ErrDeviceLost
	}
	return nil
}

// IdleWaits counts WaitIdle calls.
func (d *Device) IdleWaits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idleWaits
}

// Lose makes WaitIdle report ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// Semaphore is an in-memory timeline counter shared by every import.
type Semaphore struct {
	drv        *Driver
	obj        *object
	exportable bool

	mu      sync.Mutex
	value   uint64
	lost    bool
	changed chan struct{}
}

func newSemaphore(drv *Driver, initial uint64, exportable bool) *Semaphore {
	return &Semaphore{drv: drv, value: initial, exportable: exportable, changed: make(chan struct{})}
}

// NewSemaphore returns a standalone counter for tests that do not need
// handle exchange.
func NewSemaphore(initial uint64) *Semaphore { return newSemaphore(nil, initial, false) }

func (s *Semaphore) Desc() handle.Desc { return handle.Desc{Kind: handle.KindSemaphore} }

func (s *Semaphore) Export() (handle.Raw, error) {
	if !s.exportable || s.drv == nil {
		return handle.Raw{}, handle.ErrNotExportable
	}
	return s.drv.open(s.obj), nil
}

func (s *Semaphore) Value() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost {
		return 0, gpu.ErrDeviceLost
	}
	return s.value, nil
}

// Signal sets the counter, as a completed GPU submission would. Values
// never move backwards.
func (s *Semaphore) Signal(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v <= s.value {
		return
	}
	s.value = v
	close(s.changed)
	s.changed = make(chan struct{})
}

// Lose makes every later call report ErrDeviceLost and wakes waiters.
func (s *Semaphore) Lose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost = true
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Semaphore) Wait(value uint64, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		s.mu.Lock()
		if s.lost {
			s.mu.Unlock()
			return gpu.ErrDeviceLost
		}
		if s.value >= value {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-deadline:
			return fmt.Errorf("%w: value %d not reached", gpu.ErrWaitTimeout, value)
		}
	}
}

func (s *Semaphore) Destroy() {}
