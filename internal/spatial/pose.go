// Package spatial provides the pose math used to move grabbed objects:
// world/local point transforms and rotation deltas over explicit poses.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the tolerance used for near-zero distances and pose comparisons.
const Epsilon = 1e-9

// Vec3 is a 3-component vector.
type Vec3 = mgl64.Vec3

// Quat is a rotation quaternion.
type Quat = mgl64.Quat

// Pose is a world-space position, rotation and per-axis scale.
type Pose struct {
	Position Vec3
	Rotation Quat
	Scale    Vec3
}

// Identity returns the pose at the origin with no rotation and unit scale.
func Identity() Pose {
	return Pose{
		Rotation: mgl64.QuatIdent(),
		Scale:    Vec3{1, 1, 1},
	}
}

// At returns a unit-scale, unrotated pose at position p.
func At(p Vec3) Pose {
	pose := Identity()
	pose.Position = p
	return pose
}

// TransformPoint maps a point expressed in this pose's local frame into world space.
//
// Postcondition: InverseTransformPoint(TransformPoint(p)) == p for any pose with non-zero scale.
func (p Pose) TransformPoint(local Vec3) Vec3 {
	scaled := mulComponents(local, p.Scale)
	return p.Position.Add(p.Rotation.Rotate(scaled))
}

// InverseTransformPoint maps a world-space point into this pose's local frame.
//
// Precondition: every component of p.Scale must be non-zero.
func (p Pose) InverseTransformPoint(world Vec3) Vec3 {
	rel := p.Rotation.Inverse().Rotate(world.Sub(p.Position))
	return Vec3{rel[0] / p.Scale[0], rel[1] / p.Scale[1], rel[2] / p.Scale[2]}
}

// ApproxEqual reports whether both poses agree within threshold on every component.
// Rotations q and -q are treated as equal.
func (p Pose) ApproxEqual(o Pose, threshold float64) bool {
	return near(p.Position, o.Position, threshold) &&
		near(p.Scale, o.Scale, threshold) &&
		SameRotation(p.Rotation, o.Rotation, threshold)
}

// RotationDelta returns the rotation that carries from onto to (to * from⁻¹).
func RotationDelta(from, to Quat) Quat {
	return to.Mul(from.Inverse())
}

// SameRotation reports whether a and b describe the same orientation within threshold.
func SameRotation(a, b Quat, threshold float64) bool {
	// mgl64's ApproxEqualThreshold is relative; poses need an absolute bound.
	same := math.Abs(a.W-b.W) <= threshold && near(a.V, b.V, threshold)
	flipped := math.Abs(a.W+b.W) <= threshold && near(a.V, b.V.Mul(-1), threshold)
	return same || flipped
}

// Lerp blends a and b: w=0 yields a, w=1 yields b.
func Lerp(a, b Vec3, w float64) Vec3 {
	return a.Mul(1 - w).Add(b.Mul(w))
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Vec3) Vec3 {
	return a.Add(b).Mul(0.5)
}

// Distance returns |a - b|.
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Len()
}

func near(a, b Vec3, threshold float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > threshold {
			return false
		}
	}
	return true
}

func mulComponents(a, b Vec3) Vec3 {
	return Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}
