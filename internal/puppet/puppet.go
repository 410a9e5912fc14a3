// Package puppet implements a headless participant: a scene instantiated in
// memory, three scripted tracking points standing in for head and hands, and
// a fixed-rate loop that drives a sync session and optional Lua hooks.
package puppet

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/config"
	"github.com/cory-johannsen/vrsync/internal/observability"
	"github.com/cory-johannsen/vrsync/internal/protocol"
	"github.com/cory-johannsen/vrsync/internal/scene"
	"github.com/cory-johannsen/vrsync/internal/scripting"
	"github.com/cory-johannsen/vrsync/internal/session"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

var (
	// ErrUnknownHand is returned for a hand name other than head, right or left.
	ErrUnknownHand = errors.New("unknown hand")
	// ErrSessionEnded is returned by Run when the session closes without an error.
	ErrSessionEnded = errors.New("session ended")
)

// Puppet is one headless participant. All methods except Run must be called
// from the goroutine that steps the puppet.
type Puppet struct {
	interval time.Duration
	world    *scene.World
	hands    hands
	session  *session.Session
	scripts  *scripting.Runtime
	base     *zap.Logger
	logger   *zap.Logger
	ticks    int
}

// New instantiates def and binds a session over tr. When cfg.ScriptDir is set
// every script in it is loaded before New returns.
//
// Precondition: def must be validated; tr and logger must be non-nil; cfg.TickHz > 0.
// Postcondition: Returns a puppet that has not connected yet, or an error if
// a script fails to load.
func New(cfg config.ClientConfig, def *scene.Definition, tr session.Transport, logger *zap.Logger) (*Puppet, error) {
	role := protocol.RoleGuest
	if cfg.Host {
		role = protocol.RoleHost
	}
	p := &Puppet{
		interval: cfg.TickInterval(),
		world:    scene.Instantiate(def),
		hands:    newHands(),
		base:     logger,
		logger:   logger,
	}
	p.session = session.New(session.Options{
		Transport: tr,
		Scene:     p.world,
		Avatar:    p.hands.avatar(),
		Spawner:   p.world,
		Role:      role,
		Regist:    cfg.Regist,
		Hooks: session.Hooks{
			OnJoined:       p.onJoined,
			OnPeerJoined:   func(seat int) { p.callHook(scripting.HookPeerJoin, lua.LNumber(seat)) },
			OnPeerLeft:     func(seat int) { p.callHook(scripting.HookPeerLeave, lua.LNumber(seat)) },
			OnDisconnected: p.onDisconnected,
		},
	}, logger)

	if cfg.ScriptDir != "" {
		rt := scripting.NewRuntime(p, cfg.InstructionLimit, logger.Named("lua"))
		if err := rt.LoadDir(cfg.ScriptDir); err != nil {
			rt.Close()
			return nil, fmt.Errorf("puppet: %w", err)
		}
		p.scripts = rt
	}
	return p, nil
}

// World returns the puppet's scene.
func (p *Puppet) World() *scene.World { return p.world }

// Session returns the underlying sync session.
func (p *Puppet) Session() *session.Session { return p.session }

// Hand returns the named hand, or nil.
func (p *Puppet) Hand(name string) *Hand { return p.hands.byName(name) }

// Connect starts joining the relay.
func (p *Puppet) Connect(ctx context.Context) error {
	return p.session.Start(ctx)
}

// Step runs one loop iteration: inbound frames, the on_tick hook, free fall
// over dt, then outbound sync.
func (p *Puppet) Step(dt time.Duration) {
	p.session.Drain()
	p.ticks++
	p.callHook(scripting.HookTick, lua.LNumber(p.ticks))
	p.world.Step(dt)
	p.session.Tick()
}

// Run connects and steps at the configured rate until ctx is cancelled or the
// session ends. The session and script runtime are closed on return.
//
// Postcondition: Returns ctx.Err() on cancellation, the session's error if it
// disconnected, or ErrSessionEnded.
func (p *Puppet) Run(ctx context.Context) error {
	defer p.shutdown()
	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("puppet: connecting: %w", err)
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Step(p.interval)
			if p.session.State() != session.StateDisconnected {
				continue
			}
			if err := p.session.Err(); err != nil {
				return fmt.Errorf("puppet: %w", err)
			}
			return ErrSessionEnded
		}
	}
}

func (p *Puppet) shutdown() {
	if err := p.session.Close(); err != nil {
		p.logger.Warn("closing session", zap.Error(err))
	}
	if p.scripts != nil {
		p.scripts.Close()
	}
}

func (p *Puppet) onJoined(seat int) {
	p.logger = observability.ForSeat(p.base, seat, p.session.Role())
	p.logger.Info("puppet joined")
	p.callHook(scripting.HookJoin, lua.LNumber(seat))
}

func (p *Puppet) onDisconnected(err error) {
	if err != nil {
		p.logger.Warn("puppet disconnected", zap.Error(err))
		return
	}
	p.logger.Info("puppet disconnected")
}

func (p *Puppet) callHook(hook string, args ...lua.LValue) {
	if p.scripts == nil {
		return
	}
	if _, err := p.scripts.CallHook(hook, args...); err != nil {
		p.logger.Warn("script hook failed", zap.String("hook", hook), zap.Error(err))
	}
}

func (p *Puppet) hand(name string) (*Hand, error) {
	h := p.hands.byName(name)
	if h == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHand, name)
	}
	return h, nil
}

// MoveHand places the named hand at pose.
func (p *Puppet) MoveHand(name string, pose spatial.Pose) error {
	h, err := p.hand(name)
	if err != nil {
		return err
	}
	h.MoveTo(pose)
	return nil
}

// Grab grabs object id with the named hand.
func (p *Puppet) Grab(id, hand string) error {
	h, err := p.hand(hand)
	if err != nil {
		return err
	}
	_, err = p.session.Grab(id, h)
	return err
}

// Release lets go of object id with the named hand.
func (p *Puppet) Release(id, hand string) error {
	h, err := p.hand(hand)
	if err != nil {
		return err
	}
	_, err = p.session.Release(id, h.GrabberID())
	return err
}

// SetGravity toggles gravity on id.
func (p *Puppet) SetGravity(id string, active bool) error {
	return p.session.SetGravity(id, active)
}

// AllocateGravity asks the relay for (or gives up) physics ownership of id.
func (p *Puppet) AllocateGravity(id string, active bool) error {
	return p.session.AllocateGravity(id, active)
}

// PushAnim writes an animation parameter on animator id.
func (p *Puppet) PushAnim(id string, param animation.Param) error {
	return p.session.PushAnim(id, param)
}

// ForceRelease makes every participant drop id.
func (p *Puppet) ForceRelease(id string) error {
	return p.session.ForceRelease(id)
}

// Position returns the current position of any registered object.
func (p *Puppet) Position(id string) (spatial.Vec3, bool) {
	obj := p.session.Registry().Grabbable(id)
	if obj == nil {
		return spatial.Vec3{}, false
	}
	return obj.Body().Pose().Position, true
}

// Seat returns the assigned seat, or -1.
func (p *Puppet) Seat() int { return p.session.Seat() }
