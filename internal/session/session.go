// Package session implements the participant side of the synchronization
// protocol: the join/leave state machine, lock and gravity arbitration,
// outbound change detection and inbound dispatch to the object registry.
//
// A Session is driven by a single update loop calling Drain and Tick; none of
// its methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/grab"
	"github.com/cory-johannsen/vrsync/internal/protocol"
	"github.com/cory-johannsen/vrsync/internal/registry"
	"github.com/cory-johannsen/vrsync/internal/spatial"
	"github.com/cory-johannsen/vrsync/internal/transport"
)

// poseEpsilon is the per-component change threshold for outbound pose sync.
const poseEpsilon = 1e-6

var (
	// ErrUnknownObject is returned when an id is absent from the registry.
	ErrUnknownObject = errors.New("unknown object id")
	// ErrLockedByPeer is returned by Grab when another seat holds the object's lock.
	ErrLockedByPeer = errors.New("object locked by another seat")
	// ErrNotJoined is returned when an outbound frame is attempted before a seat is assigned.
	ErrNotJoined = errors.New("session not joined")
	// ErrRejected is recorded when the relay refuses registration.
	ErrRejected = errors.New("registration rejected")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// State is the session's protocol state.
type State int

const (
	StateConnecting State = iota
	StateJoining
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the connection to the relay. Events must deliver in order and
// is drained without blocking.
type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Close() error
	Events() <-chan transport.Event
}

// Scene supplies the locally known grabbables and animation targets.
type Scene interface {
	Grabbables() []*grab.Object
	Animators() map[string]animation.Target
}

// Spawner creates and destroys local representations of remote avatar parts.
type Spawner interface {
	Spawn(id string) grab.Body
	Despawn(id string)
}

// Hooks are optional callbacks invoked from Drain.
type Hooks struct {
	OnJoined       func(seat int)
	OnPeerJoined   func(seat int)
	OnPeerLeft     func(seat int)
	OnDisconnected func(err error)
}

// Options configures a Session.
type Options struct {
	Transport Transport
	Scene     Scene
	Avatar    Avatar
	// Spawner may be nil, in which case remote avatars are not represented.
	Spawner Spawner
	Role    protocol.Role
	// Regist marks this participant as the scene owner: it re-broadcasts every
	// known pose before registering and requests gravity allocation on accept.
	Regist bool
	Hooks  Hooks
}

// Session is one participant's view of the shared session.
type Session struct {
	opts     Options
	logger   *zap.Logger
	registry *registry.Registry

	state      State
	seat       int
	err        error
	closed     bool
	avatarSync bool

	remoteAvatars map[int][]*grab.Object
	lastSent      map[string]spatial.Pose
}

// New creates a session in the Connecting state with its registry built from
// the scene and avatar.
//
// Precondition: opts.Transport and opts.Scene must be non-nil; logger must be non-nil.
func New(opts Options, logger *zap.Logger) *Session {
	s := &Session{
		opts:          opts,
		logger:        logger.With(zap.Stringer("role", opts.Role)),
		registry:      registry.New(),
		state:         StateConnecting,
		seat:          -1,
		remoteAvatars: make(map[int][]*grab.Object),
		lastSent:      make(map[string]spatial.Pose),
	}
	s.rebuildRegistry()
	return s
}

// Start begins connecting. Completion is observed through Drain.
func (s *Session) Start(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.opts.Transport.Connect(ctx); err != nil {
		s.disconnect(fmt.Errorf("connecting: %w", err))
		return err
	}
	return nil
}

// State returns the protocol state.
func (s *Session) State() State { return s.state }

// Seat returns the assigned seat index, or -1.
func (s *Session) Seat() int { return s.seat }

// Role returns the participant's role.
func (s *Session) Role() protocol.Role { return s.opts.Role }

// Err returns the error that moved the session to Disconnected, if any.
func (s *Session) Err() error { return s.err }

// Registry exposes the id → object table for read access by the owning loop.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Close stops all outbound traffic and closes the transport.
//
// Postcondition: State is Disconnected; later local mutations produce no frames.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.avatarSync = false
	s.state = StateDisconnected
	s.logger.Info("session closed", zap.Int("seat", s.seat))
	return s.opts.Transport.Close()
}

// Drain handles every transport event queued since the last call and returns
// how many were handled. It never blocks.
func (s *Session) Drain() int {
	events := s.opts.Transport.Events()
	n := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.disconnect(nil)
				return n
			}
			s.handleEvent(ev)
			n++
		default:
			return n
		}
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpen:
		s.onOpen()
	case transport.EventMessage:
		msg, err := protocol.Decode(ev.Data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			return
		}
		s.dispatch(msg)
	case transport.EventError:
		s.disconnect(fmt.Errorf("transport: %w", ev.Err))
	case transport.EventClose:
		s.disconnect(ev.Err)
	}
}

func (s *Session) onOpen() {
	if s.closed || s.state != StateConnecting {
		return
	}
	s.state = StateJoining
	if s.opts.Regist {
		for _, obj := range s.opts.Scene.Grabbables() {
			msg := s.transformFrame(obj)
			s.report(msg, s.transmit(msg))
		}
	}
	regist := protocol.Regist(s.opts.Role)
	s.report(regist, s.transmit(regist))
	s.logger.Info("registering with relay", zap.Bool("regist", s.opts.Regist))
}

func (s *Session) disconnect(err error) {
	if s.state == StateDisconnected {
		return
	}
	s.state = StateDisconnected
	s.avatarSync = false
	if err != nil && s.err == nil {
		s.err = err
	}
	if err != nil {
		s.logger.Warn("session disconnected", zap.Int("seat", s.seat), zap.Error(err))
	} else {
		s.logger.Info("session disconnected", zap.Int("seat", s.seat))
	}
	if s.opts.Hooks.OnDisconnected != nil {
		s.opts.Hooks.OnDisconnected(s.err)
	}
}

// rebuildRegistry maps every scene grabbable and animator, the local avatar
// parts and any remote avatars already represented.
func (s *Session) rebuildRegistry() {
	s.registry.Reset()
	for _, obj := range s.opts.Scene.Grabbables() {
		s.registry.RegisterGrabbable(obj)
	}
	for id, target := range s.opts.Scene.Animators() {
		s.registry.RegisterAnimator(id, target)
	}
	for _, obj := range s.opts.Avatar.parts() {
		s.registry.RegisterGrabbable(obj)
	}
	for _, parts := range s.remoteAvatars {
		for _, obj := range parts {
			s.registry.RegisterGrabbable(obj)
		}
	}
}

// send encodes and transmits msg if the session is joined.
func (s *Session) send(msg protocol.Message) error {
	if s.closed {
		return ErrClosed
	}
	if s.state != StateJoined {
		return ErrNotJoined
	}
	return s.transmit(msg)
}

// announce sends msg and logs a failure instead of returning it; used where the
// local operation already succeeded.
func (s *Session) announce(msg protocol.Message) {
	s.report(msg, s.send(msg))
}

func (s *Session) report(msg protocol.Message, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrNotJoined), errors.Is(err, ErrClosed):
		s.logger.Debug("outbound frame suppressed", zap.Stringer("action", msg.Action), zap.Error(err))
	default:
		s.logger.Warn("outbound frame dropped", zap.Stringer("action", msg.Action), zap.Error(err))
	}
}

func (s *Session) transmit(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.opts.Transport.Send(data); err != nil {
		return fmt.Errorf("sending %v: %w", msg.Action, err)
	}
	s.logger.Debug("frame sent", zap.Stringer("action", msg.Action), zap.String("object_id", msg.ObjectID()))
	return nil
}

func (s *Session) transformFrame(obj *grab.Object) protocol.Message {
	cfg := obj.Config()
	info := protocol.NewTransformInfo(obj.ID(), cfg.PhysicsDriven, cfg.GravityEnabled, obj.Body().Pose())
	return protocol.SyncTransform(s.opts.Role, info)
}

func (s *Session) object(id string) (*grab.Object, error) {
	obj := s.registry.Grabbable(id)
	if obj == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObject, id)
	}
	return obj, nil
}
