//go:build windows

package ipc

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

type viewRegion struct {
	mapping windows.Handle
	addr    uintptr
	data    []byte
}

func mappingName(name string) (*uint16, error) {
	return windows.UTF16PtrFromString(`Local\` + name)
}

func createRegion(name string, size int) (region, error) {
	namep, err := mappingName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelCreationFailed, err)
	}
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE,
		uint32(uint64(size)>>32), uint32(size), namep)
	if h == 0 {
		return nil, fmt.Errorf("%w: CreateFileMapping %s: %v", ErrChannelCreationFailed, name, err)
	}
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("%w: %s already exists", ErrChannelCreationFailed, name)
	}
	return mapView(h, size, ErrChannelCreationFailed)
}

func openRegion(name string) (region, error) {
	namep, err := mappingName(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, false, namep)
	if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("ipc: OpenFileMapping %s: %w", name, err)
	}
	return mapView(h, 0, nil)
}

func mapView(h windows.Handle, size int, kind error) (region, error) {
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		if kind != nil {
			return nil, fmt.Errorf("%w: MapViewOfFile: %v", kind, err)
		}
		return nil, fmt.Errorf("ipc: MapViewOfFile: %w", err)
	}
	if size == 0 {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			windows.UnmapViewOfFile(addr)
			windows.CloseHandle(h)
			return nil, fmt.Errorf("ipc: VirtualQuery: %w", err)
		}
		size = int(mbi.RegionSize)
	}
	return &viewRegion{
		mapping: h,
		addr:    addr,
		data:    unsafe.Slice((*byte)(unsafe.Pointer(addr)), size),
	}, nil
}

func (r *viewRegion) Bytes() []byte { return r.data }

// Close unmaps the view. The kernel object disappears with its last handle,
// which is the producer's.
func (r *viewRegion) Close() error {
	r.data = nil
	err := windows.UnmapViewOfFile(r.addr)
	if cerr := windows.CloseHandle(r.mapping); err == nil {
		err = cerr
	}
	return err
}
