package scene

import (
	"math"

	reMath "render-compositor/math"
)

// NodeQuad is the world-space rectangle the child's output is composited
// onto. It lies in the plane z = Center.Z.
type NodeQuad struct {
	Center reMath.Vec3
	Size   reMath.Vec2
}

// Rect is a pixel rectangle with exclusive X1 and Y1.
type Rect struct {
	X0, Y0, X1, Y1 int32
}

func (r Rect) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Project maps the quad onto a width x height viewport with the origin at
// the top left. dst is the quad's screen bounds clipped to the viewport and
// src the matching part of a srcW x srcH image. ok is false when nothing is
// visible or a corner lies behind the camera.
func (q NodeQuad) Project(viewProj reMath.Mat4, width, height, srcW, srcH int) (dst, src Rect, ok bool) {
	if width <= 0 || height <= 0 || srcW <= 0 || srcH <= 0 {
		return Rect{}, Rect{}, false
	}
	f := FrustumFromViewProjection(viewProj)
	if !q.Bounds().Intersects(&f) {
		return Rect{}, Rect{}, false
	}
	hw, hh := q.Size.X/2, q.Size.Y/2
	corners := [4]reMath.Vec3{
		{X: q.Center.X - hw, Y: q.Center.Y - hh, Z: q.Center.Z},
		{X: q.Center.X + hw, Y: q.Center.Y - hh, Z: q.Center.Z},
		{X: q.Center.X + hw, Y: q.Center.Y + hh, Z: q.Center.Z},
		{X: q.Center.X - hw, Y: q.Center.Y + hh, Z: q.Center.Z},
	}

	x0, y0 := float32(math.Inf(1)), float32(math.Inf(1))
	x1, y1 := float32(math.Inf(-1)), float32(math.Inf(-1))
	for _, c := range corners {
		clip := c.ToVec4(1).MulMat(viewProj)
		if clip.W <= 1e-6 {
			return Rect{}, Rect{}, false
		}
		sx := (clip.X/clip.W + 1) / 2 * float32(width)
		sy := (1 - clip.Y/clip.W) / 2 * float32(height)
		x0, x1 = min(x0, sx), max(x1, sx)
		y0, y1 = min(y0, sy), max(y1, sy)
	}
	if x1-x0 < 1 || y1-y0 < 1 {
		return Rect{}, Rect{}, false
	}

	cx0, cy0 := max(x0, 0), max(y0, 0)
	cx1, cy1 := min(x1, float32(width)), min(y1, float32(height))
	dst = Rect{X0: round(cx0), Y0: round(cy0), X1: round(cx1), Y1: round(cy1)}
	if dst.Empty() {
		return Rect{}, Rect{}, false
	}

	sw, sh := float32(srcW)/(x1-x0), float32(srcH)/(y1-y0)
	src = Rect{
		X0: round((cx0 - x0) * sw),
		Y0: round((cy0 - y0) * sh),
		X1: round((cx1 - x0) * sw),
		Y1: round((cy1 - y0) * sh),
	}
	if src.Empty() {
		return Rect{}, Rect{}, false
	}
	return dst, src, true
}

func round(f float32) int32 { return int32(math.Round(float64(f))) }

// FrameColor is the clear color of the child's frame n. The hue cycles so
// dropped or repeated frames show in the composite.
func FrameColor(n uint64) [4]float32 {
	const period = 240
	h := float64(n%period) / period * 6
	s, v := 0.6, 0.9

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h, 2)-1))
	m := v - c
	var r, g, b float64
	switch int(h) {
	case 0:
		r, g, b = c, x, 0
	case 1:
		r, g, b = x, c, 0
	case 2:
		r, g, b = 0, c, x
	case 3:
		r, g, b = 0, x, c
	case 4:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return [4]float32{float32(r + m), float32(g + m), float32(b + m), 1}
}
