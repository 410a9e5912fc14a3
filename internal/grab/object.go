// Package grab implements per-object grab ownership: up to two grabbers
// (primary and secondary) holding one object, the physics suspension that
// goes with holding it, and the one- and two-handed pose blending applied
// every tick.
package grab

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// MaxScalingSensitivity is the upper bound of Config.ScalingSensitivity.
const MaxScalingSensitivity = 0.25

// ErrInvalidTransition is the parent of every rejected AddGrabber/RemoveGrabber call.
var ErrInvalidTransition = errors.New("invalid grab transition")

var (
	// ErrAlreadyTwoGrabbers is returned by AddGrabber when both slots are occupied.
	ErrAlreadyTwoGrabbers = fmt.Errorf("%w: already two grabbers", ErrInvalidTransition)
	// ErrAlreadyGrabbing is returned by AddGrabber when the grabber already holds the object.
	ErrAlreadyGrabbing = fmt.Errorf("%w: grabber already holds object", ErrInvalidTransition)
	// ErrNotAGrabber is returned by RemoveGrabber when the id holds neither slot.
	ErrNotAGrabber = fmt.Errorf("%w: not a grabber", ErrInvalidTransition)
)

// Grabber is a single manipulation source such as a hand or controller.
type Grabber interface {
	// GrabberID is the opaque identity compared by RemoveGrabber.
	GrabberID() string
	// Pose is the grabber's current world pose.
	Pose() spatial.Pose
}

// Body is the physics/pose collaborator that owns the object's actual transform.
type Body interface {
	Pose() spatial.Pose
	// SetPose assigns the pose directly.
	SetPose(p spatial.Pose)
	// MoveTo drives the body to p through the physics engine (interpolated).
	MoveTo(p spatial.Pose)
	// SetGravity toggles free fall; false also makes the body kinematic.
	SetGravity(active bool)
}

// Grabbable is the capability an input handle holds on to while grabbing.
type Grabbable interface {
	AddGrabber(g Grabber) (Transition, error)
	RemoveGrabber(id string) (Transition, error)
	Tick() spatial.Pose
}

// Config holds the per-object manipulation flags.
type Config struct {
	// PhysicsDriven routes pose writes through Body.MoveTo.
	PhysicsDriven bool
	// GravityEnabled marks the object as subject to free fall when not held.
	GravityEnabled bool
	// PositionFixed makes the object follow the primary grabber's position.
	PositionFixed bool
	// RotationFixed makes the object follow the primary grabber's rotation.
	RotationFixed bool
	// TwoHandScaling enables scaling while two grabbers hold the object.
	TwoHandScaling bool
	// ScalingSensitivity weights the offset anchor against the raw grabber position.
	ScalingSensitivity float64
}

// State is the ownership state of an object.
type State int

const (
	Free State = iota
	HeldPrimary
	HeldPrimarySecondary
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case HeldPrimary:
		return "held_primary"
	case HeldPrimarySecondary:
		return "held_primary_secondary"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition reports what a successful AddGrabber/RemoveGrabber did.
type Transition int

const (
	// BecamePrimary: Free → HeldPrimary.
	BecamePrimary Transition = iota + 1
	// BecameSecondary: HeldPrimary → HeldPrimary+Secondary.
	BecameSecondary
	// SecondaryPromoted: primary left, secondary took its place.
	SecondaryPromoted
	// SecondaryReleased: secondary left, primary stays.
	SecondaryReleased
	// Released: the last grabber left.
	Released
)

func (t Transition) String() string {
	switch t {
	case BecamePrimary:
		return "became_primary"
	case BecameSecondary:
		return "became_secondary"
	case SecondaryPromoted:
		return "secondary_promoted"
	case SecondaryReleased:
		return "secondary_released"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("transition(%d)", int(t))
	}
}

// slot is one grabber's hold on the object, captured at grab start.
type slot struct {
	grabber Grabber
	// offset is the object's origin in the grabber's local frame.
	offset          spatial.Vec3
	grabberStartRot spatial.Quat
	objectStartRot  spatial.Quat
}

// scaleBaseline is the reference for two-handed scaling; unset below two grabbers.
type scaleBaseline struct {
	set      bool
	distance float64
	scale    spatial.Vec3
}

// Object is a grabbable object with its ownership state.
//
// Object is not safe for concurrent use; it is owned by a single update loop.
type Object struct {
	id   string
	body Body
	cfg  Config

	primary   *slot
	secondary *slot
	baseline  scaleBaseline

	lockSeat         int
	allocated        bool
	gravitySuspended bool
}

// New creates a free object backed by body.
//
// Precondition: id must be non-empty; body must be non-nil.
// Postcondition: The object is Free, unlocked (-1), allocated, and a physics+gravity
// body has had gravity enabled.
func New(id string, body Body, cfg Config) *Object {
	if cfg.ScalingSensitivity < 0 {
		cfg.ScalingSensitivity = 0
	}
	if cfg.ScalingSensitivity > MaxScalingSensitivity {
		cfg.ScalingSensitivity = MaxScalingSensitivity
	}
	o := &Object{
		id:        id,
		body:      body,
		cfg:       cfg,
		lockSeat:  -1,
		allocated: true,
	}
	o.setBodyGravity(true)
	return o
}

// ID returns the object's cross-peer identity.
func (o *Object) ID() string { return o.id }

// Relabel changes the object's identity. Only used when a seat is assigned to avatar parts.
func (o *Object) Relabel(id string) { o.id = id }

// Config returns the object's flags.
func (o *Object) Config() Config { return o.cfg }

// Body returns the pose collaborator.
func (o *Object) Body() Body { return o.body }

// SetTwoHandScaling toggles two-handed scaling at runtime.
func (o *Object) SetTwoHandScaling(enabled bool) { o.cfg.TwoHandScaling = enabled }

// State returns the current ownership state.
func (o *Object) State() State {
	switch {
	case o.primary == nil:
		return Free
	case o.secondary == nil:
		return HeldPrimary
	default:
		return HeldPrimarySecondary
	}
}

// Grabbed reports whether any local grabber holds the object.
func (o *Object) Grabbed() bool { return o.primary != nil }

// Primary returns the primary grabber's id.
func (o *Object) Primary() (string, bool) {
	if o.primary == nil {
		return "", false
	}
	return o.primary.grabber.GrabberID(), true
}

// Secondary returns the secondary grabber's id.
func (o *Object) Secondary() (string, bool) {
	if o.secondary == nil {
		return "", false
	}
	return o.secondary.grabber.GrabberID(), true
}

// HoldsGrabber reports whether id occupies either slot.
func (o *Object) HoldsGrabber(id string) bool {
	return (o.primary != nil && o.primary.grabber.GrabberID() == id) ||
		(o.secondary != nil && o.secondary.grabber.GrabberID() == id)
}

// AddGrabber puts g into the first empty slot.
//
// Postcondition: On success the slot's offset and start rotations are captured against
// the current pose; becoming primary suspends gravity. On error nothing changes.
func (o *Object) AddGrabber(g Grabber) (Transition, error) {
	if o.HoldsGrabber(g.GrabberID()) {
		return 0, ErrAlreadyGrabbing
	}
	switch {
	case o.primary == nil:
		o.suspendGravity()
		o.primary = o.capture(g)
		return BecamePrimary, nil
	case o.secondary == nil:
		o.secondary = o.capture(g)
		return BecameSecondary, nil
	default:
		return 0, ErrAlreadyTwoGrabbers
	}
}

// RemoveGrabber releases the slot held by id.
//
// Postcondition: Removing the primary with a secondary present promotes the secondary and
// re-captures it against the current pose; removing the secondary re-captures the primary;
// removing the last grabber restores gravity. The scale baseline is always invalidated.
// On error nothing changes.
func (o *Object) RemoveGrabber(id string) (Transition, error) {
	switch {
	case o.primary != nil && o.primary.grabber.GrabberID() == id:
		o.baseline = scaleBaseline{}
		if o.secondary != nil {
			o.primary = o.capture(o.secondary.grabber)
			o.secondary = nil
			return SecondaryPromoted, nil
		}
		o.primary = nil
		o.restoreGravity()
		return Released, nil
	case o.secondary != nil && o.secondary.grabber.GrabberID() == id:
		o.baseline = scaleBaseline{}
		o.secondary = nil
		o.primary = o.capture(o.primary.grabber)
		return SecondaryReleased, nil
	default:
		return 0, ErrNotAGrabber
	}
}

// ForceRelease drops every grabber and clears the lock mirror.
//
// Postcondition: The object is Free, unlocked, and gravity is restored if it was suspended.
// Returns whether any grabber was holding it.
func (o *Object) ForceRelease() bool {
	held := o.primary != nil
	o.primary = nil
	o.secondary = nil
	o.baseline = scaleBaseline{}
	o.lockSeat = -1
	o.restoreGravity()
	return held
}

func (o *Object) capture(g Grabber) *slot {
	gp := g.Pose()
	cur := o.body.Pose()
	return &slot{
		grabber:         g,
		offset:          gp.InverseTransformPoint(cur.Position),
		grabberStartRot: gp.Rotation,
		objectStartRot:  cur.Rotation,
	}
}

// LockedBy returns the seat index permitted to move the object, or -1.
func (o *Object) LockedBy() int { return o.lockSeat }

// Lock records seat as the lock holder without touching physics.
func (o *Object) Lock(seat int) { o.lockSeat = seat }

// ApplyRemoteLock mirrors a lock announced by a peer. A lock held by any seat
// suspends local gravity so local physics does not fight inbound poses; a
// release lifts that suspension unless the object is held locally.
func (o *Object) ApplyRemoteLock(seat int) {
	o.lockSeat = seat
	if o.Grabbed() {
		return
	}
	if seat >= 0 {
		o.suspendGravity()
		return
	}
	o.restoreGravity()
}

// ForceUnlock clears the lock mirror and, if nothing local holds the object,
// restores gravity suspended on behalf of the previous holder.
func (o *Object) ForceUnlock() {
	o.lockSeat = -1
	if !o.Grabbed() {
		o.restoreGravity()
	}
}

// ApplyRemotePose overwrites the pose directly, bypassing the grab state machine.
func (o *Object) ApplyRemotePose(p spatial.Pose) {
	o.body.SetPose(p)
}

// SetGravity applies a gravity request. Activation is ignored while held
// locally. Otherwise it lifts any suspension, and the body only falls when this
// participant is allocated the object's simulation.
func (o *Object) SetGravity(active bool) {
	if !active {
		o.setBodyGravity(false)
		return
	}
	if o.Grabbed() {
		return
	}
	o.gravitySuspended = false
	if o.allocated {
		o.setBodyGravity(true)
	}
}

// AllocateGravity records whether this participant simulates the object's free fall.
func (o *Object) AllocateGravity(active bool) {
	o.allocated = active
	if o.Grabbed() || o.gravitySuspended {
		return
	}
	o.setBodyGravity(active)
}

// Allocated reports whether this participant simulates the object's free fall.
func (o *Object) Allocated() bool { return o.allocated }

// GravitySuspended reports whether gravity is currently suspended by a hold.
func (o *Object) GravitySuspended() bool { return o.gravitySuspended }

// SimulatesGravity reports whether the object is a free-falling body simulated here.
func (o *Object) SimulatesGravity() bool {
	return o.gravityCapable() && o.allocated && !o.gravitySuspended && !o.Grabbed()
}

func (o *Object) gravityCapable() bool {
	return o.cfg.PhysicsDriven && o.cfg.GravityEnabled
}

func (o *Object) setBodyGravity(active bool) {
	if !o.gravityCapable() {
		return
	}
	o.body.SetGravity(active)
}

func (o *Object) suspendGravity() {
	if o.gravitySuspended || !o.gravityCapable() {
		return
	}
	o.setBodyGravity(false)
	o.gravitySuspended = true
}

func (o *Object) restoreGravity() {
	if !o.gravitySuspended {
		return
	}
	o.gravitySuspended = false
	if o.allocated {
		o.setBodyGravity(true)
	}
}
