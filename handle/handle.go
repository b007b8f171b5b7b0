// Package handle moves OS handles for GPU memory and semaphores from the
// process that created them into a peer process, and wraps received
// handles so each is imported and released exactly once.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrHandleDuplicationFailed = errors.New("handle: duplication failed")
	ErrNotExportable           = errors.New("handle: object was not created exportable")
	ErrImportParameterMismatch = errors.New("handle: import parameters do not match exporter")
	ErrAlreadyImported         = errors.New("handle: already imported")
	ErrReleased                = errors.New("handle: already released")
)

// Handle is the wire form of a duplicated handle. Its meaning is only
// defined for the receiving process's Resolver.
type Handle uint64

// Kind is the GPU object class a handle refers to.
type Kind uint8

const (
	KindMemory Kind = iota + 1
	KindSemaphore
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindSemaphore:
		return "semaphore"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Desc is what an importer must know to rebuild an object around a handle.
// For memory the image extent and format are part of it; semaphores only
// carry their kind.
type Desc struct {
	Kind   Kind
	Size   uint64
	Format uint32
	Width  uint16
	Height uint16
}

// CheckDesc fails with ErrImportParameterMismatch unless got matches want.
func CheckDesc(want, got Desc) error {
	if want != got {
		return fmt.Errorf("%w: exporter %+v, importer %+v", ErrImportParameterMismatch, want, got)
	}
	return nil
}

// Raw is an OS handle valid in the local process (an fd on unix, a HANDLE
// on windows).
type Raw struct {
	Value uintptr
	close func(uintptr) error
}

// NewRaw wraps an OS handle that is closed with the platform close call.
func NewRaw(v uintptr) Raw { return Raw{Value: v, close: closeOS} }

// RawWith wraps a handle with a custom close function.
func RawWith(v uintptr, close func(uintptr) error) Raw { return Raw{Value: v, close: close} }

func (r Raw) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close(r.Value)
}

// Exportable is a local GPU object created with export enabled.
type Exportable interface {
	Export() (Raw, error)
	Desc() Desc
}

// Duplicator makes a local handle valid in one target process.
type Duplicator interface {
	Duplicate(local Raw) (Handle, error)
	Close() error
}

// Resolver turns a received Handle into a local one.
type Resolver interface {
	Resolve(h Handle) (Raw, error)
	Close() error
}

// ExportTo exports res and duplicates it into the target behind d. The
// temporary local export handle is closed before returning; the source
// object is unaffected.
func ExportTo(res Exportable, d Duplicator) (Handle, error) {
	raw, err := res.Export()
	if err != nil {
		return 0, err
	}
	h, err := d.Duplicate(raw)
	if cerr := raw.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("handle: close local export: %w", cerr)
	}
	if err != nil {
		return 0, err
	}
	return h, nil
}

// Imported owns a received raw handle until the GPU driver consumes it.
type Imported struct {
	mu       sync.Mutex
	raw      Raw
	kind     Kind
	consumed bool
	released bool
}

func NewImported(raw Raw, kind Kind) *Imported {
	return &Imported{raw: raw, kind: kind}
}

func (i *Imported) Kind() Kind { return i.kind }

// Consume hands the raw handle to fn. It runs at most once per Imported;
// later calls fail with ErrAlreadyImported. fn reports whether the driver
// took ownership of the handle. If it did not, the handle is closed here
// once fn succeeds.
func (i *Imported) Consume(fn func(raw uintptr) (owned bool, err error)) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.consumed {
		return ErrAlreadyImported
	}
	if i.released {
		return ErrReleased
	}
	owned, err := fn(i.raw.Value)
	if err != nil {
		return err
	}
	i.consumed = true
	if owned {
		i.released = true
		return nil
	}
	return i.releaseLocked()
}

// Release closes the raw handle unless it was already closed or handed to
// the driver. Safe to call more than once.
func (i *Imported) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.releaseLocked()
}

func (i *Imported) releaseLocked() error {
	if i.released {
		return nil
	}
	i.released = true
	return i.raw.Close()
}
