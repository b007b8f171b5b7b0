package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compositor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Node.Width != 800 || cfg.Node.Height != 600 || cfg.Node.TimelineStep != 4 {
		t.Errorf("node defaults = %+v", cfg.Node)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
node:
  width: 1024
sync:
  wait_timeout: 250ms
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.Width != 1024 || cfg.Node.Height != 600 {
		t.Errorf("node = %dx%d", cfg.Node.Width, cfg.Node.Height)
	}
	if cfg.Sync.WaitTimeout != 250*time.Millisecond {
		t.Errorf("wait_timeout = %v", cfg.Sync.WaitTimeout)
	}
	if cfg.Channel.Name != "render-compositor" {
		t.Errorf("channel name lost: %q", cfg.Channel.Name)
	}
	if b := cfg.Backoff(); b.Budget != Default().Sync.HandshakeBudget {
		t.Errorf("backoff = %+v", b)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero node":      func(c *Config) { c.Node.Width = 0 },
		"wide node":      func(c *Config) { c.Node.Height = 70000 },
		"zero step":      func(c *Config) { c.Node.TimelineStep = 0 },
		"huge step":      func(c *Config) { c.Node.TimelineStep = 1<<32 + 4 },
		"tiny channel":   func(c *Config) { c.Channel.Capacity = 64 },
		"no name":        func(c *Config) { c.Channel.Name = "" },
		"no timeout":     func(c *Config) { c.Sync.WaitTimeout = 0 },
		"bad level":      func(c *Config) { c.Log.Level = "loud" },
		"no window size": func(c *Config) { c.Window.Height = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Load(writeFile(t, "node: [")); err == nil {
		t.Error("malformed yaml accepted")
	}
	if _, err := Load(writeFile(t, "node:\n  timeline_step: 0\n")); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvFile, "")
	if cfg, err := FromEnv(); err != nil || cfg.Window.Width != 1280 {
		t.Errorf("defaults: %+v, %v", cfg.Window, err)
	}
	t.Setenv(EnvFile, writeFile(t, "window:\n  title: test\n"))
	cfg, err := FromEnv()
	if err != nil || cfg.Window.Title != "test" {
		t.Errorf("overlay: %+v, %v", cfg.Window, err)
	}
}
