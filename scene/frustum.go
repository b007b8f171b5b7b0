package scene

import reMath "render-compositor/math"

// Plane is the half-space Normal·p + D >= 0.
type Plane struct {
	Normal reMath.Vec3
	D      float32
}

func (p Plane) DistanceTo(pt reMath.Vec3) float32 {
	return p.Normal.Dot(pt) + p.D
}

// Frustum holds the six clip planes of a view frustum.
type Frustum struct {
	Planes [6]Plane // left, right, bottom, top, near, far
}

// FrustumFromViewProjection extracts the planes of vp with the
// Gribb/Hartmann method. Points multiply vp from the left, so clip
// component j is the dot product with column j.
func FrustumFromViewProjection(vp reMath.Mat4) Frustum {
	col := func(j int) reMath.Vec4 {
		return reMath.Vec4{X: vp[0][j], Y: vp[1][j], Z: vp[2][j], W: vp[3][j]}
	}
	cx, cy, cz, cw := col(0), col(1), col(2), col(3)

	var f Frustum
	f.Planes[0] = plane(cw.Add(cx))
	f.Planes[1] = plane(cw.Sub(cx))
	f.Planes[2] = plane(cw.Add(cy))
	f.Planes[3] = plane(cw.Sub(cy))
	f.Planes[4] = plane(cw.Add(cz))
	f.Planes[5] = plane(cw.Sub(cz))
	return f
}

func plane(v reMath.Vec4) Plane {
	n := v.ToVec3()
	l := n.Length()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: n.Mul(1 / l), D: v.W / l}
}

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max reMath.Vec3
}

// Intersects is false only when the box lies entirely outside one plane.
// It tests the corner furthest along each plane normal.
func (b AABB) Intersects(f *Frustum) bool {
	for _, p := range f.Planes {
		pt := b.Max
		if p.Normal.X < 0 {
			pt.X = b.Min.X
		}
		if p.Normal.Y < 0 {
			pt.Y = b.Min.Y
		}
		if p.Normal.Z < 0 {
			pt.Z = b.Min.Z
		}
		if p.DistanceTo(pt) < 0 {
			return false
		}
	}
	return true
}

// Bounds is the quad's box; it has no depth.
func (q NodeQuad) Bounds() AABB {
	half := reMath.Vec3{X: q.Size.X / 2, Y: q.Size.Y / 2}
	return AABB{Min: q.Center.Sub(half), Max: q.Center.Add(half)}
}
