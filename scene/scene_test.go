package scene

import (
	"math"
	"testing"

	reMath "render-compositor/math"
)

func TestProjectIdentity(t *testing.T) {
	q := NodeQuad{Center: reMath.NewVec3(0, 0, 0.5), Size: reMath.NewVec2(1, 1)}

	dst, src, ok := q.Project(reMath.Mat4Identity(), 200, 100, 800, 600)
	if !ok {
		t.Fatal("quad in front of the camera was not visible")
	}
	if want := (Rect{X0: 50, Y0: 25, X1: 150, Y1: 75}); dst != want {
		t.Errorf("dst = %+v, want %+v", dst, want)
	}
	if want := (Rect{X0: 0, Y0: 0, X1: 800, Y1: 600}); src != want {
		t.Errorf("src = %+v, want %+v", src, want)
	}
}

func TestProjectClipsToViewport(t *testing.T) {
	// Spans NDC x 0.5..1.5, so the right half falls off screen.
	q := NodeQuad{Center: reMath.NewVec3(1, 0, 0), Size: reMath.NewVec2(1, 1)}

	dst, src, ok := q.Project(reMath.Mat4Identity(), 200, 100, 800, 600)
	if !ok {
		t.Fatal("partly visible quad was dropped")
	}
	if want := (Rect{X0: 150, Y0: 25, X1: 200, Y1: 75}); dst != want {
		t.Errorf("dst = %+v, want %+v", dst, want)
	}
	if want := (Rect{X0: 0, Y0: 0, X1: 400, Y1: 600}); src != want {
		t.Errorf("src = %+v, want %+v", src, want)
	}
}

func TestProjectRejects(t *testing.T) {
	q := NodeQuad{Center: reMath.NewVec3(0, 0, 0), Size: reMath.NewVec2(1, 1)}

	behind := reMath.Mat4Identity()
	behind[3][3] = -1
	if _, _, ok := q.Project(behind, 200, 100, 8, 8); ok {
		t.Error("quad behind the camera was visible")
	}

	far := NodeQuad{Center: reMath.NewVec3(5, 0, 0), Size: reMath.NewVec2(1, 1)}
	if _, _, ok := far.Project(reMath.Mat4Identity(), 200, 100, 8, 8); ok {
		t.Error("off-screen quad was visible")
	}

	if _, _, ok := q.Project(reMath.Mat4Identity(), 0, 100, 8, 8); ok {
		t.Error("empty viewport produced a rect")
	}
}

func TestOrbitCameraCentresTarget(t *testing.T) {
	target := reMath.NewVec3(0, 0, 0)
	cam := NewOrbitCamera(target, 3, float32(math.Pi/3), 16.0/9.0)
	cam.Spin = 1
	cam.Update(0.5)

	if d := cam.Position.Distance(target); math.Abs(float64(d-3)) > 1e-4 {
		t.Errorf("orbit distance = %v, want 3", d)
	}

	q := NodeQuad{Center: target, Size: reMath.NewVec2(0.5, 0.5)}
	dst, _, ok := q.Project(cam.ViewProjection(), 1600, 900, 64, 64)
	if !ok {
		t.Fatal("target quad not visible")
	}
	cx, cy := (dst.X0+dst.X1)/2, (dst.Y0+dst.Y1)/2
	if cx < 790 || cx > 810 || cy < 440 || cy > 460 {
		t.Errorf("quad centred at %d,%d, want near 800,450", cx, cy)
	}
}

func TestFrameColorCycles(t *testing.T) {
	if FrameColor(0) != FrameColor(240) {
		t.Error("color does not repeat after a full period")
	}
	if FrameColor(0) == FrameColor(1) {
		t.Error("consecutive frames share a color")
	}
	for n := uint64(0); n < 240; n += 7 {
		for i, ch := range FrameColor(n) {
			if ch < 0 || ch > 1 {
				t.Fatalf("frame %d channel %d = %v out of range", n, i, ch)
			}
		}
	}
}

func TestFrustumCullsBehindCamera(t *testing.T) {
	cam := NewOrbitCamera(reMath.NewVec3(0, 0, 0), 5, float32(math.Pi/3), 1)
	f := FrustumFromViewProjection(cam.ViewProjection())

	front := NodeQuad{Center: reMath.NewVec3(0, 0, 0), Size: reMath.NewVec2(1, 1)}
	if b := front.Bounds(); !b.Intersects(&f) {
		t.Errorf("box at the target culled: %+v", b)
	}

	// The camera sits at z=5 looking down -z.
	behind := NodeQuad{Center: reMath.NewVec3(0, 0, 10), Size: reMath.NewVec2(1, 1)}
	if b := behind.Bounds(); b.Intersects(&f) {
		t.Errorf("box behind the camera kept: %+v", b)
	}
	if _, _, ok := behind.Project(cam.ViewProjection(), 640, 480, 8, 8); ok {
		t.Error("quad behind the camera projected")
	}
}
