package core

import (
	"github.com/go-gl/glfw/v3.3/glfw"

	"render-compositor/math"
	"render-compositor/scene"
)

// Controls reports the input the camera reacts to. Window implements it.
type Controls interface {
	IsKeyPressed(key glfw.Key) bool
	IsMouseButtonPressed(button glfw.MouseButton) bool
	GetCursorPos() (float64, float64)
	GetFramebufferSize() (int, int)
	TakeScroll() float64
}

// CameraController drives an orbit camera: left drag or the arrow keys
// orbit, W/S and the scroll wheel zoom.
type CameraController struct {
	Camera      *scene.OrbitCamera
	controls    Controls
	Sensitivity float32
	KeySpeed    float32
	ZoomSpeed   float32

	lastX, lastY float64
	dragging     bool
}

func NewCameraController(controls Controls, cam *scene.OrbitCamera) *CameraController {
	return &CameraController{
		Camera:      cam,
		controls:    controls,
		Sensitivity: 0.005,
		KeySpeed:    1.5,
		ZoomSpeed:   4,
	}
}

func (c *CameraController) Update(dt float32) {
	if w, h := c.controls.GetFramebufferSize(); w > 0 && h > 0 {
		c.Camera.UpdateAspectRatio(float32(w), float32(h))
	}

	x, y := c.controls.GetCursorPos()
	if c.controls.IsMouseButtonPressed(glfw.MouseButtonLeft) {
		if c.dragging {
			c.Camera.Orbit(-float32(x-c.lastX)*c.Sensitivity, float32(y-c.lastY)*c.Sensitivity)
		}
		c.dragging = true
	} else {
		c.dragging = false
	}
	c.lastX, c.lastY = x, y

	var yaw, pitch, zoom float32
	if c.controls.IsKeyPressed(glfw.KeyLeft) {
		yaw -= c.KeySpeed * dt
	}
	if c.controls.IsKeyPressed(glfw.KeyRight) {
		yaw += c.KeySpeed * dt
	}
	if c.controls.IsKeyPressed(glfw.KeyUp) {
		pitch += c.KeySpeed * dt
	}
	if c.controls.IsKeyPressed(glfw.KeyDown) {
		pitch -= c.KeySpeed * dt
	}
	if c.controls.IsKeyPressed(glfw.KeyW) {
		zoom -= c.ZoomSpeed * dt
	}
	if c.controls.IsKeyPressed(glfw.KeyS) {
		zoom += c.ZoomSpeed * dt
	}
	zoom -= float32(c.controls.TakeScroll()) * 0.25

	if yaw != 0 || pitch != 0 {
		c.Camera.Orbit(yaw, pitch)
	}
	if zoom != 0 {
		c.Camera.Zoom(zoom)
	}
	c.Camera.Update(dt)
}

func (c *CameraController) ViewProjection() math.Mat4 {
	return c.Camera.ViewProjection()
}
