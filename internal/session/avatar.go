package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/grab"
)

// Avatar part suffixes.
const (
	PartHead      = "Head"
	PartRightHand = "RTouch"
	PartLeftHand  = "LTouch"
)

// AvatarParts lists the part suffixes in registration order.
var AvatarParts = []string{PartHead, PartRightHand, PartLeftHand}

// AvatarPrefix is the id prefix shared by every part of seat's avatar.
func AvatarPrefix(seat int) string {
	return fmt.Sprintf("OVRGuestAnchor.%d.", seat)
}

// AvatarPartID is the cross-peer id of one avatar part.
func AvatarPartID(seat int, part string) string {
	return AvatarPrefix(seat) + part
}

// Avatar holds the locally driven avatar parts. Any part may be nil.
type Avatar struct {
	Head      *grab.Object
	RightHand *grab.Object
	LeftHand  *grab.Object
}

func (a Avatar) parts() []*grab.Object {
	var out []*grab.Object
	for _, obj := range []*grab.Object{a.Head, a.RightHand, a.LeftHand} {
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

// relabel renames each part for seat.
func (a Avatar) relabel(seat int) {
	if a.Head != nil {
		a.Head.Relabel(AvatarPartID(seat, PartHead))
	}
	if a.RightHand != nil {
		a.RightHand.Relabel(AvatarPartID(seat, PartRightHand))
	}
	if a.LeftHand != nil {
		a.LeftHand.Relabel(AvatarPartID(seat, PartLeftHand))
	}
}

// spawnRemoteAvatar creates and registers seat's avatar parts if they are not
// represented yet.
func (s *Session) spawnRemoteAvatar(seat int) {
	if s.opts.Spawner == nil {
		return
	}
	if _, ok := s.remoteAvatars[seat]; ok {
		return
	}
	parts := make([]*grab.Object, 0, len(AvatarParts))
	for _, part := range AvatarParts {
		id := AvatarPartID(seat, part)
		obj := grab.New(id, s.opts.Spawner.Spawn(id), grab.Config{})
		s.registry.RegisterGrabbable(obj)
		parts = append(parts, obj)
	}
	s.remoteAvatars[seat] = parts
	s.logger.Debug("remote avatar spawned", zap.Int("peer_seat", seat))
}

// despawnRemoteAvatar removes every registry entry addressed to seat's avatar.
func (s *Session) despawnRemoteAvatar(seat int) {
	for _, id := range s.registry.UnregisterPrefix(AvatarPrefix(seat)) {
		delete(s.lastSent, id)
		if s.opts.Spawner != nil {
			s.opts.Spawner.Despawn(id)
		}
	}
	delete(s.remoteAvatars, seat)
}
