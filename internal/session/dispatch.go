package session

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/protocol"
)

// serverOnly lists actions honored only when stamped with the server role.
var serverOnly = map[protocol.Action]bool{
	protocol.ActionAccept:             true,
	protocol.ActionReject:             true,
	protocol.ActionGuestDisconnect:    true,
	protocol.ActionGuestParticipation: true,
	protocol.ActionAllocateGravity:    true,
}

// dispatch applies one inbound frame. Remote updates bypass the grab state
// machine and overwrite the mirrored state directly.
func (s *Session) dispatch(msg protocol.Message) {
	if s.closed {
		return
	}
	if serverOnly[msg.Action] && msg.Role != protocol.RoleServer {
		s.logger.Warn("ignoring server action from non-server role",
			zap.Stringer("action", msg.Action), zap.Stringer("sender_role", msg.Role))
		return
	}
	s.logger.Debug("frame received", zap.Stringer("action", msg.Action), zap.Int("seat_index", msg.SeatIndex))

	switch msg.Action {
	case protocol.ActionAccept:
		s.onAccept(msg.SeatIndex)
	case protocol.ActionReject:
		s.onReject()
	case protocol.ActionGuestDisconnect:
		s.onGuestDisconnect(msg.SeatIndex)
	case protocol.ActionGuestParticipation:
		s.onGuestParticipation(msg.SeatIndex)
	case protocol.ActionSyncAnim:
		s.onSyncAnim(msg)
	case protocol.ActionRegist:
		// Registration is between a peer and the relay.
	default:
		if msg.Action.TargetsObject() {
			s.onObjectAction(msg)
		}
	}
}

func (s *Session) onAccept(seat int) {
	if s.state != StateJoining || seat < 0 {
		s.logger.Warn("ignoring unexpected accept", zap.Stringer("state", s.state), zap.Int("seat_index", seat))
		return
	}
	s.seat = seat
	s.opts.Avatar.relabel(seat)
	s.rebuildRegistry()
	s.avatarSync = true
	s.state = StateJoined
	s.logger.Info("joined session", zap.Int("seat", seat))

	for _, obj := range s.registry.Grabbables() {
		// Grabs made before a seat existed take the new seat's lock.
		if obj.Grabbed() && obj.LockedBy() < 0 {
			obj.Lock(seat)
			s.announce(protocol.GrabLock(s.opts.Role, obj.ID(), seat))
		}
	}
	if s.opts.Regist {
		// The relay forwards nothing from an unregistered socket, so the scene
		// burst sent ahead of regist is repeated now that peers can receive it.
		for _, obj := range s.opts.Scene.Grabbables() {
			msg := s.transformFrame(obj)
			if err := s.send(msg); err != nil {
				s.report(msg, err)
			} else {
				s.lastSent[obj.ID()] = obj.Body().Pose()
			}
			cfg := obj.Config()
			if cfg.PhysicsDriven && cfg.GravityEnabled {
				s.announce(protocol.AllocateGravity(s.opts.Role, obj.ID(), true))
			}
		}
	}
	if s.opts.Hooks.OnJoined != nil {
		s.opts.Hooks.OnJoined(seat)
	}
}

func (s *Session) onReject() {
	s.logger.Warn("registration rejected by relay")
	s.disconnect(ErrRejected)
	s.closed = true
	if err := s.opts.Transport.Close(); err != nil {
		s.logger.Warn("closing transport", zap.Error(err))
	}
}

func (s *Session) onGuestDisconnect(seat int) {
	if seat < 0 || seat == s.seat {
		return
	}
	s.despawnRemoteAvatar(seat)

	released, reclaimed := 0, 0
	for _, obj := range s.registry.Grabbables() {
		if obj.LockedBy() != seat {
			continue
		}
		// A local hold outlives the departed peer's lock and takes it over.
		if obj.Grabbed() && s.seat >= 0 {
			obj.Lock(s.seat)
			s.announce(protocol.GrabLock(s.opts.Role, obj.ID(), s.seat))
			reclaimed++
			continue
		}
		obj.ForceUnlock()
		released++
	}
	s.logger.Info("peer left", zap.Int("peer_seat", seat),
		zap.Int("locks_released", released), zap.Int("locks_reclaimed", reclaimed))
	if s.opts.Hooks.OnPeerLeft != nil {
		s.opts.Hooks.OnPeerLeft(seat)
	}
}

func (s *Session) onGuestParticipation(seat int) {
	if seat < 0 || seat == s.seat {
		return
	}
	s.spawnRemoteAvatar(seat)

	// The relay keeps no lock state, so the newcomer learns held locks only from us.
	for _, obj := range s.registry.Grabbables() {
		if obj.Grabbed() && s.seat >= 0 && obj.LockedBy() == s.seat {
			s.announce(protocol.GrabLock(s.opts.Role, obj.ID(), s.seat))
		}
	}
	s.logger.Info("peer joined", zap.Int("peer_seat", seat))
	if s.opts.Hooks.OnPeerJoined != nil {
		s.opts.Hooks.OnPeerJoined(seat)
	}
}

func (s *Session) onObjectAction(msg protocol.Message) {
	id := msg.ObjectID()
	obj, err := s.object(id)
	if err != nil {
		s.logger.Warn("dropping frame for unknown object",
			zap.Stringer("action", msg.Action), zap.String("object_id", id))
		return
	}

	switch msg.Action {
	case protocol.ActionSyncTransform:
		pose := msg.Transform.Pose()
		obj.ApplyRemotePose(pose)
		s.lastSent[id] = pose
	case protocol.ActionSetGravity:
		obj.SetGravity(msg.Active)
	case protocol.ActionAllocateGravity:
		obj.AllocateGravity(msg.Active)
		s.logger.Debug("gravity allocation", zap.String("object_id", id), zap.Bool("active", msg.Active))
	case protocol.ActionGrabLock:
		obj.ApplyRemoteLock(msg.SeatIndex)
	case protocol.ActionForceRelease:
		obj.ForceRelease()
	}
}

func (s *Session) onSyncAnim(msg protocol.Message) {
	if msg.Animator == nil {
		s.logger.Warn("dropping syncAnim without animator payload")
		return
	}
	target := s.registry.Animator(msg.Animator.ID)
	if target == nil {
		s.logger.Warn("dropping frame for unknown animator", zap.String("object_id", msg.Animator.ID))
		return
	}
	if err := animation.Apply(target, msg.Animator.Param()); err != nil {
		s.logger.Warn("dropping animation write", zap.String("object_id", msg.Animator.ID), zap.Error(err))
	}
}
