// Package protocol defines the messages the parent sends to the child over
// the shared-memory channel and the table that routes them to handlers.
//
// A message is a one-byte Target followed by a fixed-size little-endian
// payload. There is no length field: both binaries derive the payload size
// from the target, so the layouts below must not change while a parent and
// child built from different sources could be talking.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"render-compositor/gpu"
	"render-compositor/handle"
)

var (
	ErrUnknownTarget   = errors.New("protocol: unknown message target")
	ErrShortPayload    = errors.New("protocol: payload size does not match target")
	ErrDuplicateTarget = errors.New("protocol: target registered twice")
)

// Target is the message discriminator.
type Target byte

const (
	TargetImportNodeParent Target = iota + 1
	TargetShutdown

	targetCount
)

func (t Target) String() string {
	switch t {
	case TargetImportNodeParent:
		return "ImportNodeParent"
	case TargetShutdown:
		return "Shutdown"
	}
	return fmt.Sprintf("Target(%d)", byte(t))
}

// Message is implemented by pointers to the payload structs.
type Message interface {
	Target() Target
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// Resource is one duplicated handle plus the allocation size the exporter
// reported for it.
type Resource struct {
	Handle handle.Handle
	Size   uint64
}

// FramebufferSet carries one handle per attachment, indexed by
// gpu.Attachment.
type FramebufferSet [gpu.AttachmentCount]Resource

// ImportNodeParent is the handshake: everything the child needs to render
// into memory the parent composites from.
type ImportNodeParent struct {
	Width        uint16
	Height       uint16
	Formats      [gpu.AttachmentCount]uint32
	TimelineStep uint32
	// DeviceUUID is the parent's physical device; the child must render on
	// the same one.
	DeviceUUID   gpu.UUID

	Slots          [gpu.Slots]FramebufferSet
	ParentTimeline Resource
	ChildTimeline  Resource
}

func (*ImportNodeParent) Target() Target { return TargetImportNodeParent }

func (m *ImportNodeParent) MarshalBinary() ([]byte, error) {
	return binary.Append(make([]byte, 0, payloadSizes[TargetImportNodeParent]), binary.LittleEndian, m)
}

func (m *ImportNodeParent) UnmarshalBinary(p []byte) error {
	return decode(TargetImportNodeParent, p, m)
}

// Extent returns the framebuffer extent.
func (m *ImportNodeParent) Extent() gpu.Extent {
	return gpu.Extent{Width: m.Width, Height: m.Height}
}

// Desc is the import descriptor for one attachment of any slot.
func (m *ImportNodeParent) Desc(slot int, a gpu.Attachment) handle.Desc {
	return handle.Desc{
		Kind:   handle.KindMemory,
		Size:   m.Slots[slot][a].Size,
		Format: m.Formats[a],
		Width:  m.Width,
		Height: m.Height,
	}
}

// Shutdown asks the child to leave its render loop.
type Shutdown struct{}

func (*Shutdown) Target() Target                 { return TargetShutdown }
func (*Shutdown) MarshalBinary() ([]byte, error) { return []byte{}, nil }
func (*Shutdown) UnmarshalBinary(p []byte) error { return decode(TargetShutdown, p, nil) }

var payloadSizes = [targetCount]int{
	TargetImportNodeParent: binary.Size(ImportNodeParent{}),
	TargetShutdown:         0,
}

// PayloadSize reports the fixed payload size of t.
func PayloadSize(t Target) (int, bool) {
	if t == 0 || t >= targetCount {
		return 0, false
	}
	return payloadSizes[t], true
}

// Sizes adapts PayloadSize to ipc.SizeFunc.
func Sizes(tag byte) (int, bool) { return PayloadSize(Target(tag)) }

func decode(t Target, p []byte, v any) error {
	if len(p) != payloadSizes[t] {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrShortPayload, t, payloadSizes[t], len(p))
	}
	if v == nil {
		return nil
	}
	_, err := binary.Decode(p, binary.LittleEndian, v)
	return err
}
