package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/grab"
	"github.com/cory-johannsen/vrsync/internal/protocol"
)

// Grab adds g to object id.
//
// Precondition: g must be non-nil.
// Postcondition: Becoming primary takes the lock for this seat and announces
// grabbLock{seat}. Returns ErrUnknownObject, ErrLockedByPeer or a grab.ErrInvalidTransition
// without changing anything.
func (s *Session) Grab(id string, g grab.Grabber) (grab.Transition, error) {
	obj, err := s.object(id)
	if err != nil {
		return 0, err
	}
	if lock := obj.LockedBy(); lock >= 0 && lock != s.seat && !obj.Grabbed() {
		return 0, fmt.Errorf("grabbing %q: %w (seat %d)", id, ErrLockedByPeer, lock)
	}
	tr, err := obj.AddGrabber(g)
	if err != nil {
		return 0, fmt.Errorf("grabbing %q: %w", id, err)
	}
	if tr == grab.BecamePrimary {
		obj.Lock(s.seat)
		s.announce(protocol.GrabLock(s.opts.Role, id, s.seat))
	}
	s.logger.Debug("grab", zap.String("object_id", id), zap.String("grabber", g.GrabberID()), zap.Stringer("transition", tr))
	return tr, nil
}

// Release removes grabberID from object id.
//
// Postcondition: Releasing the last grabber frees the lock, announces grabbLock{-1}
// and, if gravity had been suspended, setGravity{true}.
func (s *Session) Release(id, grabberID string) (grab.Transition, error) {
	obj, err := s.object(id)
	if err != nil {
		return 0, err
	}
	suspended := obj.GravitySuspended()
	tr, err := obj.RemoveGrabber(grabberID)
	if err != nil {
		return 0, fmt.Errorf("releasing %q: %w", id, err)
	}
	if tr == grab.Released {
		obj.Lock(-1)
		s.announce(protocol.GrabLock(s.opts.Role, id, -1))
		if suspended {
			s.announce(protocol.SetGravity(s.opts.Role, id, true))
		}
	}
	s.logger.Debug("release", zap.String("object_id", id), zap.String("grabber", grabberID), zap.Stringer("transition", tr))
	return tr, nil
}

// ForceRelease drops every local grabber on id and tells peers to do the same.
func (s *Session) ForceRelease(id string) error {
	obj, err := s.object(id)
	if err != nil {
		return err
	}
	obj.ForceRelease()
	s.announce(protocol.ForceRelease(s.opts.Role, id))
	return nil
}

// SetGravity applies a gravity toggle locally and broadcasts it.
func (s *Session) SetGravity(id string, active bool) error {
	obj, err := s.object(id)
	if err != nil {
		return err
	}
	obj.SetGravity(active)
	s.announce(protocol.SetGravity(s.opts.Role, id, active))
	return nil
}

// AllocateGravity asks the relay to move id into (active) or out of this seat's
// physics pool. The local flag changes only when the relay answers.
func (s *Session) AllocateGravity(id string, active bool) error {
	if _, err := s.object(id); err != nil {
		return err
	}
	return s.send(protocol.AllocateGravity(s.opts.Role, id, active))
}

// PushAnim applies p to animator id locally and broadcasts it.
func (s *Session) PushAnim(id string, p animation.Param) error {
	target := s.registry.Animator(id)
	if target == nil {
		return fmt.Errorf("%w: %q", ErrUnknownObject, id)
	}
	if err := animation.Apply(target, p); err != nil {
		return err
	}
	s.announce(protocol.SyncAnim(s.opts.Role, id, p))
	return nil
}

// Tick advances every locally held object and emits syncTransform for each
// object this participant is authoritative for whose pose changed.
//
// Authoritative means: held locally under this seat's lock, a free falling body
// simulated here, or one of the local avatar parts once joined.
func (s *Session) Tick() {
	for _, obj := range s.registry.Grabbables() {
		if obj.Grabbed() {
			obj.Tick()
		}
	}
	if s.closed || s.state != StateJoined {
		return
	}

	own := make(map[*grab.Object]bool)
	for _, obj := range s.opts.Avatar.parts() {
		own[obj] = true
	}
	for _, obj := range s.registry.Grabbables() {
		switch {
		case own[obj]:
			if !s.avatarSync {
				continue
			}
		case obj.Grabbed():
			if obj.LockedBy() != s.seat {
				continue
			}
		case obj.LockedBy() < 0 && obj.SimulatesGravity():
		default:
			continue
		}
		s.syncIfChanged(obj)
	}
}

func (s *Session) syncIfChanged(obj *grab.Object) {
	pose := obj.Body().Pose()
	if last, ok := s.lastSent[obj.ID()]; ok && last.ApproxEqual(pose, poseEpsilon) {
		return
	}
	msg := s.transformFrame(obj)
	if err := s.send(msg); err != nil {
		s.report(msg, err)
		return
	}
	s.lastSent[obj.ID()] = pose
}
