//go:build unix

package ipc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"
)

type mmapRegion struct {
	data  []byte
	path  string
	owner bool
}

func shmPath(name string) string {
	dir := "/dev/shm"
	if runtime.GOOS != "linux" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name)
}

func createRegion(name string, size int) (region, error) {
	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrChannelCreationFailed, path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Unlink(path)
		return nil, fmt.Errorf("%w: truncate %s: %v", ErrChannelCreationFailed, path, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Unlink(path)
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrChannelCreationFailed, path, err)
	}
	return &mmapRegion{data: data, path: path, owner: true}, nil
}

func openRegion(name string) (region, error) {
	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if errors.Is(err, unix.ENOENT) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("ipc: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("ipc: stat %s: %w", path, err)
	}
	if st.Size <= headerSize {
		// Created but not sized yet.
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrChannelNotFound, path, st.Size)
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ipc: mmap %s: %w", path, err)
	}
	return &mmapRegion{data: data, path: path}, nil
}

func (r *mmapRegion) Bytes() []byte { return r.data }

func (r *mmapRegion) Close() error {
	err := unix.Munmap(r.data)
	r.data = nil
	if r.owner {
		if uerr := unix.Unlink(r.path); uerr != nil && !errors.Is(uerr, unix.ENOENT) && err == nil {
			err = uerr
		}
	}
	return err
}
