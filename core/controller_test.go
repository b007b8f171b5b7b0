package core

import (
	stdmath "math"
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"

	"render-compositor/math"
	"render-compositor/scene"
)

type fakeControls struct {
	keys   map[glfw.Key]bool
	button bool
	x, y   float64
	scroll float64
}

func (f *fakeControls) IsKeyPressed(key glfw.Key) bool             { return f.keys[key] }
func (f *fakeControls) IsMouseButtonPressed(glfw.MouseButton) bool { return f.button }
func (f *fakeControls) GetCursorPos() (float64, float64)           { return f.x, f.y }
func (f *fakeControls) GetFramebufferSize() (int, int)             { return 1600, 900 }

func (f *fakeControls) TakeScroll() float64 {
	s := f.scroll
	f.scroll = 0
	return s
}

func newController() (*CameraController, *fakeControls) {
	in := &fakeControls{keys: map[glfw.Key]bool{}}
	cam := scene.NewOrbitCamera(math.Vec3Zero, 3, stdmath.Pi/3, 1)
	return NewCameraController(in, cam), in
}

func TestControllerDragOrbits(t *testing.T) {
	c, in := newController()

	in.button = true
	c.Update(0.016)
	if c.Camera.Yaw != 0 {
		t.Fatalf("first press moved the camera: yaw %v", c.Camera.Yaw)
	}

	in.x = 100
	c.Update(0.016)
	yaw := c.Camera.Yaw
	if stdmath.Abs(float64(yaw)+0.5) > 1e-5 {
		t.Errorf("yaw after drag = %v, want -0.5", yaw)
	}

	in.button = false
	in.x = 300
	c.Update(0.016)
	if c.Camera.Yaw != yaw {
		t.Errorf("released button still orbits: yaw %v", c.Camera.Yaw)
	}
}

func TestControllerZoomAndAspect(t *testing.T) {
	c, in := newController()

	in.keys[glfw.KeyW] = true
	c.Update(0.5)
	if c.Camera.Distance >= 3 {
		t.Errorf("W did not zoom in: distance %v", c.Camera.Distance)
	}
	if want := float32(1600.0 / 900.0); c.Camera.AspectRatio != want {
		t.Errorf("aspect = %v, want %v", c.Camera.AspectRatio, want)
	}

	in.keys[glfw.KeyW] = false
	d := c.Camera.Distance
	in.scroll = -4
	c.Update(0.016)
	if c.Camera.Distance != d+1 {
		t.Errorf("scroll zoom: distance %v, want %v", c.Camera.Distance, d+1)
	}
	if c.ViewProjection() != c.Camera.ViewProjection() {
		t.Error("controller view projection differs from its camera")
	}
}
