package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"render-compositor/handle"
	"render-compositor/logging"
)

// Process is a spawned child and the handle link into it.
type Process struct {
	cmd  *exec.Cmd
	link *handle.Link

	done chan struct{}
	err  error
}

// Spawn starts path with args as the child of a session on channel. The
// child inherits stdout and stderr.
func Spawn(path string, args []string, channel, session string) (*Process, error) {
	link, err := handle.NewLink()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), EnvChannel+"="+channel, EnvSession+"="+session)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := link.Prepare(cmd); err != nil {
		link.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		link.Close()
		return nil, fmt.Errorf("start child: %w", err)
	}
	if err := link.Attach(cmd.Process); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		link.Close()
		return nil, fmt.Errorf("attach child: %w", err)
	}

	p := &Process{cmd: cmd, link: link, done: make(chan struct{})}
	go func() {
		p.err = exitError(cmd.Wait())
		close(p.done)
	}()
	logging.Logger().Info("spawned child", "pid", cmd.Process.Pid, "channel", channel)
	return p, nil
}

func exitError(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() == ExitDeviceLost {
		return fmt.Errorf("%w (exit status %d)", ErrChildDeviceLost, ExitDeviceLost)
	}
	return err
}

// Duplicator makes handles valid in the child.
func (p *Process) Duplicator() handle.Duplicator { return p.link }

func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the child exits. It returns nil for a clean exit and
// wraps ErrChildDeviceLost when the child reported a lost device.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Stop waits up to timeout for the child to exit and kills it after that.
func (p *Process) Stop(timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
	case <-t.C:
		logging.Logger().Warn("child did not exit, killing", "pid", p.Pid())
		p.cmd.Process.Kill()
		<-p.done
	}
	return p.link.Close()
}

// Supervise runs the parent loop on the calling goroutine, which must be
// the one that owns the window, while another goroutine watches the child.
// The loop ends when the window closes, ctx is done or the child exits.
// The child is then asked to stop and given exitTimeout to do so.
func Supervise(ctx context.Context, p *Parent, child *Process, in Input, cam Camera, exitTimeout time.Duration) error {
	var stopping atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := child.Wait()
		if stopping.Load() && err == nil {
			return nil
		}
		if err == nil {
			err = ErrChildExited
		}
		logging.Logger().Warn("child exited", "pid", child.Pid(), "err", err)
		return err
	})

	loopErr := p.Run(gctx, in, cam)

	stopping.Store(true)
	if err := p.Shutdown(); err != nil {
		logging.Logger().Warn("send shutdown", "err", err)
	}
	stopErr := child.Stop(exitTimeout)
	childErr := g.Wait()

	switch {
	case loopErr != nil:
		return loopErr
	case childErr != nil:
		return childErr
	}
	return stopErr
}
