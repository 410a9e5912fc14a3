package protocol

import (
	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// Regist asks the relay for a seat.
func Regist(role Role) Message {
	return Message{Role: role, Action: ActionRegist, SeatIndex: -1}
}

// Accept grants seat to a registering participant.
func Accept(seat int) Message {
	return Message{Role: RoleServer, Action: ActionAccept, SeatIndex: seat}
}

// Reject refuses a registration.
func Reject() Message {
	return Message{Role: RoleServer, Action: ActionReject, SeatIndex: -1}
}

// GuestDisconnect announces that seat left.
func GuestDisconnect(seat int) Message {
	return Message{Role: RoleServer, Action: ActionGuestDisconnect, SeatIndex: seat}
}

// GuestParticipation announces that seat joined.
func GuestParticipation(seat int) Message {
	return Message{Role: RoleServer, Action: ActionGuestParticipation, SeatIndex: seat}
}

// AllocateGravity requests (or, from the relay, grants) gravity simulation of id.
func AllocateGravity(role Role, id string, active bool) Message {
	return Message{Role: role, Action: ActionAllocateGravity, SeatIndex: -1, Active: active, Transform: &TransformInfo{ID: id}}
}

// SetGravity toggles gravity on id.
func SetGravity(role Role, id string, active bool) Message {
	return Message{Role: role, Action: ActionSetGravity, SeatIndex: -1, Active: active, Transform: &TransformInfo{ID: id}}
}

// GrabLock announces seat as the holder of id's lock; -1 frees it.
func GrabLock(role Role, id string, seat int) Message {
	return Message{Role: role, Action: ActionGrabLock, SeatIndex: seat, Transform: &TransformInfo{ID: id}}
}

// ForceRelease makes every participant drop its grabbers on id.
func ForceRelease(role Role, id string) Message {
	return Message{Role: role, Action: ActionForceRelease, SeatIndex: -1, Transform: &TransformInfo{ID: id}}
}

// SyncTransform carries an authoritative pose.
func SyncTransform(role Role, info TransformInfo) Message {
	return Message{Role: role, Action: ActionSyncTransform, SeatIndex: -1, Transform: &info}
}

// SyncAnim carries a typed animation parameter write for animator id.
func SyncAnim(role Role, id string, p animation.Param) Message {
	info := NewAnimatorInfo(id, p)
	return Message{Role: role, Action: ActionSyncAnim, SeatIndex: -1, Animator: &info}
}

// NewTransformInfo builds the transform payload for pose p.
func NewTransformInfo(id string, rigidbody, gravity bool, p spatial.Pose) TransformInfo {
	return TransformInfo{
		ID:        id,
		Rigidbody: rigidbody,
		Gravity:   gravity,
		Position:  Vector3{X: p.Position[0], Y: p.Position[1], Z: p.Position[2]},
		Rotation:  Vector4{X: p.Rotation.V[0], Y: p.Rotation.V[1], Z: p.Rotation.V[2], W: p.Rotation.W},
		Scale:     Vector3{X: p.Scale[0], Y: p.Scale[1], Z: p.Scale[2]},
	}
}

// Pose converts the payload back into a pose.
func (t TransformInfo) Pose() spatial.Pose {
	return spatial.Pose{
		Position: spatial.Vec3{t.Position.X, t.Position.Y, t.Position.Z},
		Rotation: spatial.Quat{W: t.Rotation.W, V: spatial.Vec3{t.Rotation.X, t.Rotation.Y, t.Rotation.Z}},
		Scale:    spatial.Vec3{t.Scale.X, t.Scale.Y, t.Scale.Z},
	}
}

// NewAnimatorInfo builds the animator payload for p.
func NewAnimatorInfo(id string, p animation.Param) AnimatorInfo {
	return AnimatorInfo{
		ID:         id,
		Parameter:  p.Name,
		Type:       int(p.Type),
		FloatVal:   p.Float,
		IntVal:     p.Int,
		BoolVal:    p.Bool,
		TriggerVal: p.Trigger,
	}
}

// Param converts the payload into a typed parameter write.
func (a AnimatorInfo) Param() animation.Param {
	return animation.Param{
		Name:    a.Parameter,
		Type:    animation.ValueType(a.Type),
		Float:   a.FloatVal,
		Int:     a.IntVal,
		Bool:    a.BoolVal,
		Trigger: a.TriggerVal,
	}
}
