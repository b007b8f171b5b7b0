// Package ipc implements a named shared-memory ring buffer carrying tagged,
// fixed-size messages from one producer process to one consumer process.
//
// The region layout is
//
//	[magic u32][capacity u32][head u32][tail u32][ring u8[capacity]]
//
// All integers are native-endian; both ends run on the same machine. Only
// the producer stores head and only the consumer stores tail, so no lock is
// needed as long as each end is driven by a single goroutine.
package ipc

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	headerSize = 16

	offMagic    = 0
	offCapacity = 4
	offHead     = 8
	offTail     = 12

	regionMagic uint32 = 0x4e4f4445

	// DefaultCapacity fits the handshake message several times over.
	DefaultCapacity = 4096
)

// SizeFunc reports the payload size for a tag. The mapping must be identical
// in both processes for as long as they share a channel.
type SizeFunc func(tag byte) (int, bool)

type region interface {
	Bytes() []byte
	Close() error
}

// Channel is one end of a shared-memory ring.
type Channel struct {
	name     string
	producer bool
	size     SizeFunc

	reg  region
	ring []byte

	magic    *uint32
	capacity *uint32
	head     *uint32
	tail     *uint32
}

// NewChannel builds a channel end over buf. The producer end initialises the
// header; the consumer end validates it.
func NewChannel(buf []byte, producer bool, size SizeFunc) (*Channel, error) {
	if len(buf) <= headerSize+1 {
		return nil, fmt.Errorf("%w: region of %d bytes is too small", ErrChannelCorrupt, len(buf))
	}
	if size == nil {
		return nil, fmt.Errorf("ipc: nil SizeFunc")
	}

	c := &Channel{
		producer: producer,
		size:     size,
		magic:    word(buf, offMagic),
		capacity: word(buf, offCapacity),
		head:     word(buf, offHead),
		tail:     word(buf, offTail),
	}

	if producer {
		clear(buf)
		atomic.StoreUint32(c.capacity, uint32(len(buf)-headerSize))
		atomic.StoreUint32(c.magic, regionMagic)
		c.ring = buf[headerSize:]
		return c, nil
	}

	switch m := atomic.LoadUint32(c.magic); m {
	case regionMagic:
	case 0:
		return nil, fmt.Errorf("%w: header not initialised", ErrChannelNotFound)
	default:
		return nil, fmt.Errorf("%w: bad magic %#x", ErrChannelCorrupt, m)
	}
	capacity := int(atomic.LoadUint32(c.capacity))
	if capacity < 2 || capacity > len(buf)-headerSize {
		return nil, fmt.Errorf("%w: capacity %d does not fit region of %d bytes", ErrChannelCorrupt, capacity, len(buf))
	}
	c.ring = buf[headerSize : headerSize+capacity]
	return c, nil
}

func word(buf []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[off]))
}

// Name is the shared-memory object name, empty for channels over caller memory.
func (c *Channel) Name() string { return c.name }

// Capacity is the ring size in bytes. At most Capacity()-1 bytes can be
// outstanding at once.
func (c *Channel) Capacity() int { return len(c.ring) }

// Len is the number of unconsumed bytes.
func (c *Channel) Len() int {
	head := int(atomic.LoadUint32(c.head))
	tail := int(atomic.LoadUint32(c.tail))
	return (head - tail + len(c.ring)) % len(c.ring)
}

// Enqueue copies tag and payload into the ring. It never overwrites
// unconsumed bytes: a message that does not fit fails with ErrChannelFull
// and leaves the ring untouched.
func (c *Channel) Enqueue(tag byte, payload []byte) error {
	if c.ring == nil {
		return ErrClosed
	}
	if !c.producer {
		return ErrWrongEnd
	}
	n, ok := c.size(tag)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	if len(payload) != n {
		return fmt.Errorf("%w: tag %d wants %d bytes, got %d", ErrPayloadSize, tag, n, len(payload))
	}

	total := 1 + n
	if total > len(c.ring)-1 {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrMessageTooLarge, total, len(c.ring))
	}
	if free := len(c.ring) - 1 - c.Len(); total > free {
		return fmt.Errorf("%w: %d bytes needed, %d free", ErrChannelFull, total, free)
	}

	head := int(atomic.LoadUint32(c.head))
	c.ring[head] = tag
	c.copyIn((head+1)%len(c.ring), payload)
	atomic.StoreUint32(c.head, uint32((head+total)%len(c.ring)))
	return nil
}

// TryDequeue returns the oldest message, or ok == false when the ring is
// empty. The payload is a private copy.
func (c *Channel) TryDequeue() (tag byte, payload []byte, ok bool, err error) {
	if c.ring == nil {
		return 0, nil, false, ErrClosed
	}
	if c.producer {
		return 0, nil, false, ErrWrongEnd
	}

	head := int(atomic.LoadUint32(c.head))
	tail := int(atomic.LoadUint32(c.tail))
	if head == tail {
		return 0, nil, false, nil
	}
	if head >= len(c.ring) {
		return 0, nil, false, fmt.Errorf("%w: head %d out of range", ErrChannelCorrupt, head)
	}

	tag = c.ring[tail]
	n, known := c.size(tag)
	if !known {
		return 0, nil, false, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	used := (head - tail + len(c.ring)) % len(c.ring)
	if used < 1+n {
		return 0, nil, false, fmt.Errorf("%w: tag %d needs %d bytes, %d published", ErrChannelCorrupt, tag, 1+n, used)
	}

	payload = make([]byte, n)
	c.copyOut(payload, (tail+1)%len(c.ring))
	atomic.StoreUint32(c.tail, uint32((tail+1+n)%len(c.ring)))
	return tag, payload, true, nil
}

func (c *Channel) copyIn(at int, p []byte) {
	k := copy(c.ring[at:], p)
	copy(c.ring, p[k:])
}

func (c *Channel) copyOut(p []byte, at int) {
	k := copy(p, c.ring[at:])
	copy(p[k:], c.ring)
}

// Close releases this end. The producer also removes the named object; the
// consumer only drops its view.
func (c *Channel) Close() error {
	c.ring = nil
	if c.reg == nil {
		return nil
	}
	reg := c.reg
	c.reg = nil
	return reg.Close()
}

// Create makes a new named region of capacity ring bytes and returns its
// producer end.
func Create(name string, capacity int, size SizeFunc) (*Channel, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("%w: capacity %d", ErrChannelCreationFailed, capacity)
	}
	reg, err := createRegion(name, RegionSize(capacity))
	if err != nil {
		return nil, err
	}
	c, err := NewChannel(reg.Bytes(), true, size)
	if err != nil {
		reg.Close()
		return nil, err
	}
	c.name = name
	c.reg = reg
	return c, nil
}

// Open attaches the consumer end to an existing named region.
func Open(name string, size SizeFunc) (*Channel, error) {
	reg, err := openRegion(name)
	if err != nil {
		return nil, err
	}
	c, err := NewChannel(reg.Bytes(), false, size)
	if err != nil {
		reg.Close()
		return nil, err
	}
	c.name = name
	c.reg = reg
	return c, nil
}

// RegionSize is the number of bytes a region with capacity ring bytes
// occupies, header included.
func RegionSize(capacity int) int { return headerSize + capacity }
