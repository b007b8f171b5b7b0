//go:build unix

package handle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// EnvLinkFD names the environment variable carrying the child's end of the
// handle socket.
const EnvLinkFD = "RENDER_COMPOSITOR_HANDLE_FD"

const ticketSize = 8

func closeOS(v uintptr) error { return unix.Close(int(v)) }

// Link is the parent's side of the handle transport to one child. On unix
// duplicates travel as SCM_RIGHTS over an inherited socket and the wire
// Handle is a ticket naming the message that carried the fd.
type Link struct {
	mu     sync.Mutex
	local  *os.File
	remote *os.File
	seq    uint64
}

func NewLink() (*Link, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("handle: socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return &Link{
		local:  os.NewFile(uintptr(fds[0]), "handle-link"),
		remote: os.NewFile(uintptr(fds[1]), "handle-link-child"),
	}, nil
}

// Prepare arranges for cmd's process to inherit the remote end.
func (l *Link) Prepare(cmd *exec.Cmd) error {
	if l.remote == nil {
		return fmt.Errorf("%w: link already attached", ErrHandleDuplicationFailed)
	}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	fd := 3 + len(cmd.ExtraFiles)
	cmd.ExtraFiles = append(cmd.ExtraFiles, l.remote)
	cmd.Env = append(cmd.Env, EnvLinkFD+"="+strconv.Itoa(fd))
	return nil
}

// Attach is called once the child has started. The parent's copy of the
// remote end is dropped so a dead child shows up as EPIPE.
func (l *Link) Attach(p *os.Process) error {
	if l.remote == nil {
		return nil
	}
	err := l.remote.Close()
	l.remote = nil
	return err
}

func (l *Link) Duplicate(local Raw) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.local == nil {
		return 0, fmt.Errorf("%w: link closed", ErrHandleDuplicationFailed)
	}

	l.seq++
	var ticket [ticketSize]byte
	binary.LittleEndian.PutUint64(ticket[:], l.seq)
	oob := unix.UnixRights(int(local.Value))
	if err := unix.Sendmsg(int(l.local.Fd()), ticket[:], oob, nil, 0); err != nil {
		return 0, fmt.Errorf("%w: sendmsg: %v", ErrHandleDuplicationFailed, err)
	}
	return Handle(l.seq), nil
}

func (l *Link) Close() error {
	var errs []error
	if l.remote != nil {
		errs = append(errs, l.remote.Close())
		l.remote = nil
	}
	if l.local != nil {
		errs = append(errs, l.local.Close())
		l.local = nil
	}
	return errors.Join(errs...)
}

// LinkResolver receives fds sent by a Link.
type LinkResolver struct {
	mu      sync.Mutex
	file    *os.File
	timeout time.Duration
	pending map[Handle]int
	// resolved tickets were handed out already; their fd never comes again.
	resolved map[Handle]bool
}

// OpenResolver attaches to the socket inherited from the parent.
func OpenResolver(timeout time.Duration) (*LinkResolver, error) {
	v := os.Getenv(EnvLinkFD)
	if v == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrHandleDuplicationFailed, EnvLinkFD)
	}
	fd, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s=%q", ErrHandleDuplicationFailed, EnvLinkFD, v)
	}
	unix.CloseOnExec(fd)
	return NewLinkResolver(os.NewFile(uintptr(fd), "handle-link"), timeout), nil
}

func NewLinkResolver(f *os.File, timeout time.Duration) *LinkResolver {
	return &LinkResolver{
		file:     f,
		timeout:  timeout,
		pending:  make(map[Handle]int),
		resolved: make(map[Handle]bool),
	}
}

// Resolve returns the fd that travelled with ticket h, reading queued
// messages until it shows up.
func (r *LinkResolver) Resolve(h Handle) (Raw, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved[h] {
		return Raw{}, fmt.Errorf("%w: ticket %d", ErrAlreadyImported, h)
	}
	for {
		if fd, ok := r.pending[h]; ok {
			delete(r.pending, h)
			r.resolved[h] = true
			return NewRaw(uintptr(fd)), nil
		}
		if err := r.receive(); err != nil {
			return Raw{}, fmt.Errorf("resolve ticket %d: %w", h, err)
		}
	}
}

func (r *LinkResolver) receive() error {
	if r.file == nil {
		return fmt.Errorf("%w: resolver closed", ErrHandleDuplicationFailed)
	}
	fd := int(r.file.Fd())
	if r.timeout > 0 {
		tv := unix.NsecToTimeval(r.timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return fmt.Errorf("%w: set timeout: %v", ErrHandleDuplicationFailed, err)
		}
	}

	var ticket [ticketSize]byte
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(fd, ticket[:], oob, 0)
	if err != nil {
		return fmt.Errorf("%w: recvmsg: %v", ErrHandleDuplicationFailed, err)
	}
	if n != ticketSize {
		return fmt.Errorf("%w: short ticket (%d bytes)", ErrHandleDuplicationFailed, n)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(msgs) != 1 {
		return fmt.Errorf("%w: bad control message", ErrHandleDuplicationFailed)
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil || len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return fmt.Errorf("%w: bad rights message", ErrHandleDuplicationFailed)
	}
	unix.CloseOnExec(fds[0])
	r.pending[Handle(binary.LittleEndian.Uint64(ticket[:]))] = fds[0]
	return nil
}

// Close drops the socket and every fd that arrived but was never resolved.
func (r *LinkResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, fd := range r.pending {
		unix.Close(fd)
		delete(r.pending, h)
	}
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
