// Command compositor runs the two-process renderer. Started plainly it is
// the parent: it opens the window, creates the shared framebuffers and
// spawns itself with -child to render into them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdmath "math"
	"os"

	"github.com/google/uuid"
	"github.com/xlab/closer"

	"render-compositor/config"
	"render-compositor/core"
	"render-compositor/gpu"
	"render-compositor/handle"
	"render-compositor/ipc"
	"render-compositor/logging"
	"render-compositor/math"
	"render-compositor/node"
	"render-compositor/protocol"
	"render-compositor/scene"
	"render-compositor/vulkan"
)

var (
	childMode  = flag.Bool("child", false, "run as the offscreen node (set by the parent)")
	validation = flag.Bool("validation", false, "enable the Khronos validation layer")
	device     = flag.String("device", "", "UUID of the GPU to render on (set by the parent)")
)

var background = [4]float32{0.08, 0.09, 0.12, 1}

func main() {
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	role, session := "parent", uuid.New().String()
	if *childMode {
		role = "child"
		if s := os.Getenv(node.EnvSession); s != "" {
			session = s
		}
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logging.SetLogger(logging.NewText(os.Stderr, level, role, session))
	log := logging.Logger()

	// On SIGINT or SIGTERM closer runs this before exiting, so the loops
	// get to unwind and release the device first.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	closer.Bind(func() {
		cancel()
		<-done
	})

	if *childMode {
		err = runChild(ctx, cfg)
	} else {
		err = runParent(ctx, cfg, session)
	}
	cancel()
	close(done)

	if err != nil {
		log.Error("exiting", "err", err)
	}
	os.Exit(node.ExitCode(err))
}

// runParent must stay on the main goroutine; core locks it to the main
// thread for GLFW.
func runParent(ctx context.Context, cfg config.Config, session string) error {
	window, err := core.NewWindow(core.WindowConfig{
		Width:     cfg.Window.Width,
		Height:    cfg.Window.Height,
		Title:     cfg.Window.Title,
		Resizable: cfg.Window.Resizable,
	})
	if err != nil {
		return err
	}
	defer window.Destroy()

	anchor := math.NewVec3(cfg.Node.Anchor[0], cfg.Node.Anchor[1], cfg.Node.Anchor[2])
	rend, err := vulkan.NewParent(window, vulkan.ParentConfig{
		VSync:            cfg.Window.VSync,
		EnableValidation: *validation,
		Quad: scene.NodeQuad{
			Center: anchor,
			Size:   math.NewVec2(cfg.Node.Size[0], cfg.Node.Size[1]),
		},
		Background: background,
	})
	if err != nil {
		return err
	}
	defer rend.Destroy()
	logging.Logger().Info("device ready", "gpu", rend.GPUName(), "type", rend.DeviceType())

	name := fmt.Sprintf("%s-%s", cfg.Channel.Name, session[:8])
	ch, err := ipc.Create(name, cfg.Channel.Capacity, protocol.Sizes)
	if err != nil {
		return err
	}
	p, err := node.NewParent(node.ParentConfig{
		Extent:        gpu.Extent{Width: uint16(cfg.Node.Width), Height: uint16(cfg.Node.Height)},
		Step:          cfg.Node.TimelineStep,
		WaitTimeout:   cfg.Sync.WaitTimeout,
		StatsInterval: cfg.Log.StatsInterval,
	}, rend, ch)
	if err != nil {
		return err
	}
	defer p.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"-child", "-device", uuid.UUID(rend.UUID()).String()}
	if *validation {
		args = append(args, "-validation")
	}
	proc, err := node.Spawn(exe, args, ch.Name(), session)
	if err != nil {
		return err
	}
	if err := p.Share(proc.Duplicator()); err != nil {
		p.Shutdown()
		proc.Stop(cfg.Sync.ChildExitTimeout)
		return err
	}

	w, h := window.GetFramebufferSize()
	cam := scene.NewOrbitCamera(anchor, 8, stdmath.Pi/3, float32(w)/float32(max(h, 1)))
	controller := core.NewCameraController(window, cam)

	err = node.Supervise(ctx, p, proc, window, controller, cfg.Sync.ChildExitTimeout)
	s := p.Stats()
	logging.Logger().Info("parent done", "frames", s.Frames, "overruns", s.Overruns)
	return err
}

func runChild(ctx context.Context, cfg config.Config) error {
	name := os.Getenv(node.EnvChannel)
	if name == "" {
		return fmt.Errorf("%s is not set; -child is only started by the parent", node.EnvChannel)
	}

	ccfg := vulkan.ChildConfig{EnableValidation: *validation}
	if *device != "" {
		id, err := uuid.Parse(*device)
		if err != nil {
			return fmt.Errorf("-device: %w", err)
		}
		ccfg.Device = gpu.UUID(id)
	}
	rend, err := vulkan.NewChild(ccfg)
	if err != nil {
		return err
	}
	defer rend.Destroy()

	res, err := handle.OpenResolver(cfg.Sync.WaitTimeout)
	if err != nil {
		return err
	}
	ch, err := ipc.OpenWait(ctx, name, protocol.Sizes, cfg.Backoff())
	if err != nil {
		res.Close()
		return err
	}
	c, err := node.NewChild(node.ChildConfig{
		Handshake:     cfg.Backoff(),
		WaitTimeout:   cfg.Sync.WaitTimeout,
		StatsInterval: cfg.Log.StatsInterval,
	}, rend, res, ch)
	if err != nil {
		res.Close()
		ch.Close()
		return err
	}
	defer c.Close()

	if err := c.Handshake(ctx); err != nil {
		if errors.Is(err, node.ErrShutdown) {
			return nil
		}
		return err
	}
	err = c.Run(ctx)
	s := c.Stats()
	logging.Logger().Info("child done", "frames", s.Frames, "overruns", s.Overruns)
	return err
}
