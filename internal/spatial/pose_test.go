package spatial

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTransformPoint_Identity(t *testing.T) {
	p := Identity()
	assert.Equal(t, Vec3{1, 2, 3}, p.TransformPoint(Vec3{1, 2, 3}))
}

func TestTransformPoint_RotatedAndTranslated(t *testing.T) {
	p := At(Vec3{10, 0, 0})
	p.Rotation = mgl64.QuatRotate(math.Pi/2, Vec3{0, 1, 0})

	got := p.TransformPoint(Vec3{1, 0, 0})
	// +X rotated 90° about +Y points to -Z.
	assert.InDelta(t, 10.0, got[0], 1e-9)
	assert.InDelta(t, 0.0, got[1], 1e-9)
	assert.InDelta(t, -1.0, got[2], 1e-9)
}

func TestTransformPoint_AppliesScale(t *testing.T) {
	p := Identity()
	p.Scale = Vec3{2, 3, 4}
	assert.Equal(t, Vec3{2, 3, 4}, p.TransformPoint(Vec3{1, 1, 1}))
}

func TestRotationDelta_ComposesBack(t *testing.T) {
	from := mgl64.QuatRotate(0.3, Vec3{1, 0, 0})
	to := mgl64.QuatRotate(1.1, Vec3{0, 0, 1})
	delta := RotationDelta(from, to)
	assert.True(t, SameRotation(to, delta.Mul(from), 1e-9))
}

func TestSameRotation_Antipodal(t *testing.T) {
	q := mgl64.QuatRotate(0.7, Vec3{0, 1, 0})
	neg := mgl64.Quat{W: -q.W, V: q.V.Mul(-1)}
	assert.True(t, SameRotation(q, neg, 1e-12))
	assert.False(t, SameRotation(q, mgl64.QuatIdent(), 1e-6))
}

func TestMidpointAndDistance(t *testing.T) {
	a, b := Vec3{0, 0, 0}, Vec3{2, 0, 0}
	assert.Equal(t, Vec3{1, 0, 0}, Midpoint(a, b))
	assert.InDelta(t, 2.0, Distance(a, b), 1e-12)
	assert.Equal(t, b, Lerp(a, b, 1))
	assert.Equal(t, a, Lerp(a, b, 0))
}

func drawPose(t *rapid.T) Pose {
	coord := rapid.Float64Range(-100, 100)
	axis := Vec3{
		rapid.Float64Range(-1, 1).Draw(t, "ax"),
		rapid.Float64Range(-1, 1).Draw(t, "ay"),
		rapid.Float64Range(0.1, 1).Draw(t, "az"),
	}.Normalize()
	scale := rapid.Float64Range(0.1, 5)
	return Pose{
		Position: Vec3{coord.Draw(t, "px"), coord.Draw(t, "py"), coord.Draw(t, "pz")},
		Rotation: mgl64.QuatRotate(rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "angle"), axis),
		Scale:    Vec3{scale.Draw(t, "sx"), scale.Draw(t, "sy"), scale.Draw(t, "sz")},
	}
}

// Property: InverseTransformPoint undoes TransformPoint.
func TestPropertyInverseTransformRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := drawPose(t)
		coord := rapid.Float64Range(-50, 50)
		local := Vec3{coord.Draw(t, "lx"), coord.Draw(t, "ly"), coord.Draw(t, "lz")}

		back := p.InverseTransformPoint(p.TransformPoint(local))
		for i := range local {
			if math.Abs(back[i]-local[i]) > 1e-6 {
				t.Fatalf("round trip mismatch: got %v want %v", back, local)
			}
		}
	})
}
