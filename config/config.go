// Package config holds the compositor's tunables. Defaults cover a normal
// run; a YAML file named by RENDER_COMPOSITOR_CONFIG overrides any subset.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"render-compositor/ipc"
	"render-compositor/logging"
	"render-compositor/protocol"
)

// EnvFile names the optional YAML overlay.
const EnvFile = "RENDER_COMPOSITOR_CONFIG"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Window  WindowConfig  `yaml:"window"`
	Node    NodeConfig    `yaml:"node"`
	Channel ChannelConfig `yaml:"channel"`
	Sync    SyncConfig    `yaml:"sync"`
	Log     LogConfig     `yaml:"log"`
}

// WindowConfig is the parent's presentation window.
type WindowConfig struct {
	Title     string `yaml:"title"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	VSync     bool   `yaml:"vsync"`
	Resizable bool   `yaml:"resizable"`
}

// NodeConfig describes the child's shared framebuffers.
type NodeConfig struct {
	Width        int        `yaml:"width"`
	Height       int        `yaml:"height"`
	TimelineStep uint64     `yaml:"timeline_step"`
	Anchor       [3]float32 `yaml:"anchor"` // world position of the composited quad
	Size         [2]float32 `yaml:"size"`   // world size of the composited quad
}

type ChannelConfig struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// SyncConfig bounds every wait in the handshake and the render loops.
type SyncConfig struct {
	WaitTimeout      time.Duration `yaml:"wait_timeout"`
	HandshakeInitial time.Duration `yaml:"handshake_initial"`
	HandshakeMax     time.Duration `yaml:"handshake_max"`
	HandshakeBudget  time.Duration `yaml:"handshake_budget"`
	ChildExitTimeout time.Duration `yaml:"child_exit_timeout"`
}

type LogConfig struct {
	Level         string        `yaml:"level"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

func Default() Config {
	b := ipc.DefaultBackoff()
	return Config{
		Window: WindowConfig{
			Title:     "Render Compositor",
			Width:     1280,
			Height:    720,
			VSync:     true,
			Resizable: true,
		},
		Node: NodeConfig{
			Width:        800,
			Height:       600,
			TimelineStep: 4,
			Anchor:       [3]float32{0, 1, 0},
			Size:         [2]float32{4, 3},
		},
		Channel: ChannelConfig{
			Name:     "render-compositor",
			Capacity: ipc.DefaultCapacity,
		},
		Sync: SyncConfig{
			WaitTimeout:      5 * time.Second,
			HandshakeInitial: b.Initial,
			HandshakeMax:     b.Max,
			HandshakeBudget:  b.Budget,
			ChildExitTimeout: 3 * time.Second,
		},
		Log: LogConfig{
			Level:         "info",
			StatsInterval: 5 * time.Second,
		},
	}
}

// Backoff is the handshake poll policy.
func (c *Config) Backoff() ipc.Backoff {
	return ipc.Backoff{
		Initial: c.Sync.HandshakeInitial,
		Max:     c.Sync.HandshakeMax,
		Budget:  c.Sync.HandshakeBudget,
	}
}

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		bad("window size %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Node.Width <= 0 || c.Node.Height <= 0 || c.Node.Width > math.MaxUint16 || c.Node.Height > math.MaxUint16 {
		bad("node size %dx%d must be within 1..%d", c.Node.Width, c.Node.Height, math.MaxUint16)
	}
	if c.Node.TimelineStep == 0 || c.Node.TimelineStep > math.MaxUint32 {
		bad("timeline_step %d must be within 1..%d", c.Node.TimelineStep, uint64(math.MaxUint32))
	}
	if c.Channel.Name == "" {
		bad("channel name is empty")
	}
	if n, _ := protocol.PayloadSize(protocol.TargetImportNodeParent); c.Channel.Capacity <= n+1 {
		bad("channel capacity %d cannot hold the %d byte handshake", c.Channel.Capacity, n+1)
	}
	if c.Sync.WaitTimeout <= 0 || c.Sync.HandshakeBudget <= 0 {
		bad("wait_timeout and handshake_budget must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	return errors.Join(errs...)
}

// Load overlays the YAML file at path on the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv loads the file named by EnvFile, or returns the defaults when it
// is unset.
func FromEnv() (Config, error) {
	path := os.Getenv(EnvFile)
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}
