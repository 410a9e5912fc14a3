package grab

import (
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// Tick moves the object according to its current grabbers and returns the resulting pose.
//
// Postcondition: A free object is not moved. With one grabber, or two grabbers without
// scaling, the object follows the primary. With two grabbers and scaling, the first tick
// only captures the scale baseline and later ticks scale and re-center the object.
func (o *Object) Tick() spatial.Pose {
	switch {
	case o.primary == nil:
		o.baseline = scaleBaseline{}
		return o.body.Pose()
	case o.secondary != nil && o.cfg.TwoHandScaling:
		return o.tickScale()
	default:
		o.baseline = scaleBaseline{}
		return o.tickFollow()
	}
}

func (o *Object) tickFollow() spatial.Pose {
	next := FollowPrimary(o.body.Pose(), o.primary.grabber.Pose(), o.primary.offset,
		o.primary.grabberStartRot, o.primary.objectStartRot, o.cfg.PositionFixed, o.cfg.RotationFixed)
	o.write(next)
	return next
}

func (o *Object) tickScale() spatial.Pose {
	cur := o.body.Pose()
	mainPose := o.primary.grabber.Pose()
	subPose := o.secondary.grabber.Pose()

	mainAnchor := mainPose.TransformPoint(o.primary.offset)
	subAnchor := subPose.TransformPoint(o.secondary.offset)

	w := o.cfg.ScalingSensitivity
	distance := spatial.Distance(
		ScalingAnchor(mainPose.Position, mainAnchor, w),
		ScalingAnchor(subPose.Position, subAnchor, w),
	)

	if !o.baseline.set {
		// A degenerate pair is retried next tick instead of dividing by ~0 later.
		if distance > spatial.Epsilon {
			o.baseline = scaleBaseline{set: true, distance: distance, scale: cur.Scale}
		}
		return cur
	}

	next := cur
	next.Scale = o.baseline.scale.Mul(distance / o.baseline.distance)
	next.Position = spatial.Midpoint(mainAnchor, subAnchor)
	o.write(next)
	return next
}

func (o *Object) write(p spatial.Pose) {
	if o.cfg.PhysicsDriven {
		o.body.MoveTo(p)
		return
	}
	o.body.SetPose(p)
}

// FollowPrimary computes the one-grabber pose: the stored offset carried by the grabber's
// current pose, and the grabber's rotation delta since grab start applied to the object's
// start rotation.
func FollowPrimary(cur, grabber spatial.Pose, offset spatial.Vec3, grabberStart, objectStart spatial.Quat, positionFixed, rotationFixed bool) spatial.Pose {
	next := cur
	if positionFixed {
		next.Position = grabber.TransformPoint(offset)
	}
	if rotationFixed {
		next.Rotation = spatial.RotationDelta(grabberStart, grabber.Rotation).Mul(objectStart)
	}
	return next
}

// ScalingAnchor blends a grabber's raw position with its offset anchor: weight w on
// the anchor and 1-w on the raw position. Both grabbers' offset anchors coincide at
// grab start, so w < 1 keeps the baseline distance away from zero.
func ScalingAnchor(raw, anchor spatial.Vec3, w float64) spatial.Vec3 {
	return spatial.Lerp(raw, anchor, w)
}
