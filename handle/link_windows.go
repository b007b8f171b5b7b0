//go:build windows

package handle

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/windows"
)

func closeOS(v uintptr) error { return windows.CloseHandle(windows.Handle(v)) }

// Link is the parent's side of the handle transport to one child. On
// windows DuplicateHandle writes straight into the child's handle table,
// so the wire Handle is the HANDLE value the child will see.
type Link struct {
	mu     sync.Mutex
	target windows.Handle
}

func NewLink() (*Link, error) { return &Link{}, nil }

func (l *Link) Prepare(cmd *exec.Cmd) error { return nil }

// Attach opens the started child with the right to receive duplicates.
func (l *Link) Attach(p *os.Process) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := windows.OpenProcess(windows.PROCESS_DUP_HANDLE, false, uint32(p.Pid))
	if err != nil {
		return fmt.Errorf("%w: OpenProcess %d: %v", ErrHandleDuplicationFailed, p.Pid, err)
	}
	l.target = h
	return nil
}

func (l *Link) Duplicate(local Raw) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.target == 0 {
		return 0, fmt.Errorf("%w: no target process", ErrHandleDuplicationFailed)
	}

	var out windows.Handle
	err := windows.DuplicateHandle(windows.CurrentProcess(), windows.Handle(local.Value),
		l.target, &out, 0, false, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return 0, fmt.Errorf("%w: DuplicateHandle: %v", ErrHandleDuplicationFailed, err)
	}
	return Handle(out), nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.target == 0 {
		return nil
	}
	err := windows.CloseHandle(l.target)
	l.target = 0
	return err
}

// LinkResolver keeps the unix name; on windows the received value is
// already a valid local HANDLE. Each one is handed out once so it is
// closed once.
type LinkResolver struct {
	mu       sync.Mutex
	resolved map[Handle]bool
}

func OpenResolver(timeout time.Duration) (*LinkResolver, error) {
	return &LinkResolver{resolved: make(map[Handle]bool)}, nil
}

func (r *LinkResolver) Resolve(h Handle) (Raw, error) {
	if h == 0 {
		return Raw{}, fmt.Errorf("%w: null handle", ErrHandleDuplicationFailed)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved[h] {
		return Raw{}, fmt.Errorf("%w: handle %#x", ErrAlreadyImported, uintptr(h))
	}
	r.resolved[h] = true
	return NewRaw(uintptr(h)), nil
}

func (*LinkResolver) Close() error { return nil }
