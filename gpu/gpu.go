// Package gpu is the driver contract the cross-process core is written
// against. The vulkan package implements it on real hardware; gputest
// implements it in memory.
package gpu

import (
	"errors"
	"fmt"
	"time"

	"render-compositor/handle"
)

var (
	// ErrDeviceLost is fatal for the process that sees it.
	ErrDeviceLost = errors.New("gpu: device lost")

	// ErrSubmissionFailed covers transient driver failures during submit.
	ErrSubmissionFailed = errors.New("gpu: submission failed")

	ErrWaitTimeout    = errors.New("gpu: timeline wait timed out")
	ErrMissingFeature = errors.New("gpu: required feature or extension missing")
)

// Attachment indexes the images of a framebuffer set.
type Attachment int

const (
	Color Attachment = iota
	Normal
	GBuffer
	Depth

	AttachmentCount
)

func (a Attachment) String() string {
	switch a {
	case Color:
		return "color"
	case Normal:
		return "normal"
	case GBuffer:
		return "gbuffer"
	case Depth:
		return "depth"
	}
	return fmt.Sprintf("attachment(%d)", int(a))
}

// Slots is the number of framebuffer sets the child renders into in turn.
const Slots = 2

// Extent is a framebuffer size. It travels as 16-bit fields.
type Extent struct {
	Width  uint16
	Height uint16
}

// UUID identifies a physical device across processes and APIs. Memory can
// only be shared between devices with the same UUID.
type UUID [16]byte

// Image is one render target, local or imported.
type Image interface {
	Desc() handle.Desc
	Destroy()
}

// ExportableImage is an image allocated with export enabled.
type ExportableImage interface {
	Image
	handle.Exportable
}

// FramebufferSet groups the attachments of one render target.
type FramebufferSet [AttachmentCount]Image

// Destroy releases every non-nil image in the set.
func (s *FramebufferSet) Destroy() {
	for i, img := range s {
		if img != nil {
			img.Destroy()
			s[i] = nil
		}
	}
}

// Semaphore is a timeline semaphore as seen from the CPU.
type Semaphore interface {
	// Value reads the current counter without blocking.
	Value() (uint64, error)
	// Wait blocks until the counter reaches value or timeout elapses, in
	// which case it returns ErrWaitTimeout. A negative timeout waits forever.
	Wait(value uint64, timeout time.Duration) error
	Destroy()
}

// ExportableSemaphore is a timeline semaphore created with export enabled.
type ExportableSemaphore interface {
	Semaphore
	handle.Exportable
}

// Device creates and imports the objects shared between processes.
type Device interface {
	CreateImage(a Attachment, e Extent) (ExportableImage, error)
	CreateTimeline(initial uint64) (ExportableSemaphore, error)
	// ImportImage rebuilds an image around imp. want describes the
	// exporter's image; a driver that disagrees fails with
	// handle.ErrImportParameterMismatch.
	ImportImage(imp *handle.Imported, want handle.Desc) (Image, error)
	ImportTimeline(imp *handle.Imported) (Semaphore, error)
	WaitIdle() error
	UUID() UUID
}

// CreateFramebufferSet allocates one exportable image per attachment.
func CreateFramebufferSet(d Device, e Extent) (FramebufferSet, error) {
	var set FramebufferSet
	for a := Color; a < AttachmentCount; a++ {
		img, err := d.CreateImage(a, e)
		if err != nil {
			set.Destroy()
			return FramebufferSet{}, fmt.Errorf("create %s image: %w", a, err)
		}
		set[a] = img
	}
	return set, nil
}
