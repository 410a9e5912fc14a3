// Package protocol defines the session synchronization wire format: one JSON
// object per frame carrying a role, an action, a seat index and optional
// transform/animator payloads.
package protocol

import (
	"fmt"
)

// Role identifies the sender class of a frame. Values are part of the wire format.
type Role int

const (
	RoleServer Role = iota
	RoleHost
	RoleGuest
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r >= RoleServer && r <= RoleGuest }

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps a role name back to its Role.
func ParseRole(name string) (Role, error) {
	for r := RoleServer; r <= RoleGuest; r++ {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// Action is the frame's verb. The order of the constants is the wire encoding
// and must never change.
type Action int

const (
	ActionRegist Action = iota
	ActionReject
	ActionAccept
	ActionGuestDisconnect
	ActionGuestParticipation
	ActionAllocateGravity
	ActionSetGravity
	ActionGrabLock
	ActionForceRelease
	ActionSyncTransform
	ActionSyncAnim
)

var actionNames = [...]string{
	ActionRegist:             "regist",
	ActionReject:             "regect",
	ActionAccept:             "acept",
	ActionGuestDisconnect:    "guestDisconnect",
	ActionGuestParticipation: "guestParticipation",
	ActionAllocateGravity:    "allocateGravity",
	ActionSetGravity:         "setGravity",
	ActionGrabLock:           "grabbLock",
	ActionForceRelease:       "forceRelease",
	ActionSyncTransform:      "syncTransform",
	ActionSyncAnim:           "syncAnim",
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a >= ActionRegist && a <= ActionSyncAnim }

func (a Action) String() string {
	if a.Valid() {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// TargetsObject reports whether frames of this action address a grabbable via transform.id.
func (a Action) TargetsObject() bool {
	switch a {
	case ActionAllocateGravity, ActionSetGravity, ActionGrabLock, ActionForceRelease, ActionSyncTransform:
		return true
	}
	return false
}

// Vector3 is a wire 3-vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector4 is a wire quaternion.
type Vector4 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// TransformInfo is the transform payload; ID is the cross-peer object identity.
type TransformInfo struct {
	ID        string  `json:"id"`
	Rigidbody bool    `json:"rigidbody"`
	Gravity   bool    `json:"gravity"`
	Position  Vector3 `json:"position"`
	Rotation  Vector4 `json:"rotation"`
	Scale     Vector3 `json:"scale"`
}

// AnimatorInfo is the animation payload. Type selects which value field is meaningful.
type AnimatorInfo struct {
	ID         string  `json:"id"`
	Parameter  string  `json:"parameter"`
	Type       int     `json:"type"`
	FloatVal   float64 `json:"floatVal"`
	IntVal     int     `json:"intVal"`
	BoolVal    bool    `json:"boolVal"`
	TriggerVal string  `json:"triggerVal"`
}

// Message is one wire frame.
type Message struct {
	Role      Role           `json:"role"`
	Action    Action         `json:"action"`
	SeatIndex int            `json:"seatIndex"`
	Active    bool           `json:"active"`
	Transform *TransformInfo `json:"transform,omitempty"`
	Animator  *AnimatorInfo  `json:"animator,omitempty"`
}

// ObjectID returns transform.id, or "" when the frame carries no transform.
func (m Message) ObjectID() string {
	if m.Transform == nil {
		return ""
	}
	return m.Transform.ID
}
