package math

import (
	"math"
	"testing"
)

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-4 }

func TestVec3Operations(t *testing.T) {
	a, b := NewVec3(1, 2, 3), NewVec3(4, 5, 6)

	if got := a.Add(b); got != NewVec3(5, 7, 9) {
		t.Errorf("Add = %v", got)
	}
	if got := b.Sub(a); got != NewVec3(3, 3, 3) {
		t.Errorf("Sub = %v", got)
	}
	if got := a.Dot(b); got != 32 {
		t.Errorf("Dot = %v, want 32", got)
	}
	if got := Vec3Right.Cross(Vec3Up); got != Vec3Front {
		t.Errorf("Right x Up = %v, want %v", got, Vec3Front)
	}
	if got := NewVec3(3, 0, 4).Normalize(); !near(got.Length(), 1) {
		t.Errorf("normalized length = %v", got.Length())
	}
	if got := Vec3Zero.Normalize(); got != Vec3Zero {
		t.Errorf("zero normalized to %v", got)
	}
}

func TestMat4MulOrder(t *testing.T) {
	a := Mat4Translation(NewVec3(1, 0, 0))
	b := Mat4Translation(NewVec3(0, 2, 0))
	p := NewVec4(0, 0, 0, 1).MulMat(a.Mul(b))
	if p != NewVec4(1, 2, 0, 1) {
		t.Errorf("translated origin = %v", p)
	}
	if Mat4Identity().Mul(a) != a {
		t.Error("identity is not neutral")
	}
}

func TestLookAtMovesEyeToOrigin(t *testing.T) {
	eye := NewVec3(2, 3, 5)
	m := Mat4LookAt(eye, NewVec3(0, 0, 0), Vec3Up)
	p := eye.ToVec4(1).MulMat(m)
	if !near(p.X, 0) || !near(p.Y, 0) || !near(p.Z, 0) {
		t.Errorf("eye maps to %v, want origin", p)
	}

	// The target lies straight ahead, down -z.
	q := NewVec4(0, 0, 0, 1).MulMat(m)
	if !near(q.X, 0) || !near(q.Y, 0) || q.Z >= 0 {
		t.Errorf("target maps to %v", q)
	}
}

func TestPerspectiveDepthRange(t *testing.T) {
	const n, f = 0.5, 50
	m := Mat4Perspective(float32(math.Pi/2), 1, n, f)
	for _, c := range []struct {
		z, ndc float32
	}{{-n, -1}, {-f, 1}} {
		p := NewVec4(0, 0, c.z, 1).MulMat(m)
		if got := p.Z / p.W; !near(got, c.ndc) {
			t.Errorf("z=%v maps to depth %v, want %v", c.z, got, c.ndc)
		}
	}
}

func BenchmarkMat4Mul(b *testing.B) {
	m1, m2 := Mat4Identity(), Mat4Translation(NewVec3(1, 2, 3))
	for i := 0; i < b.N; i++ {
		_ = m1.Mul(m2)
	}
}
