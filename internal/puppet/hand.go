package puppet

import (
	"github.com/cory-johannsen/vrsync/internal/grab"
	"github.com/cory-johannsen/vrsync/internal/scene"
	"github.com/cory-johannsen/vrsync/internal/session"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// Hand names accepted by the engine.* script API.
const (
	HandHead  = "head"
	HandRight = "right"
	HandLeft  = "left"
)

// localPrefix names avatar parts before the relay assigns a seat.
const localPrefix = "local."

// Hand is a scripted tracking point. It grabs as a grab.Grabber and is
// mirrored to peers as one of the participant's avatar parts.
type Hand struct {
	name string
	body *scene.MemoryBody
	part *grab.Object
}

func newHand(name, part string) *Hand {
	body := scene.NewMemoryBody(spatial.Identity())
	return &Hand{
		name: name,
		body: body,
		part: grab.New(localPrefix+part, body, grab.Config{}),
	}
}

// GrabberID is stable across seat assignment, unlike the avatar part id.
func (h *Hand) GrabberID() string { return "puppet." + h.name }

// Pose returns the hand's world pose.
func (h *Hand) Pose() spatial.Pose { return h.body.Pose() }

// Name returns the script-facing hand name.
func (h *Hand) Name() string { return h.name }

// PartID returns the avatar part id peers address this hand by.
func (h *Hand) PartID() string { return h.part.ID() }

// MoveTo places the hand at p.
func (h *Hand) MoveTo(p spatial.Pose) { h.body.SetPose(p) }

type hands struct {
	head, right, left *Hand
}

func newHands() hands {
	return hands{
		head:  newHand(HandHead, session.PartHead),
		right: newHand(HandRight, session.PartRightHand),
		left:  newHand(HandLeft, session.PartLeftHand),
	}
}

func (h hands) byName(name string) *Hand {
	switch name {
	case HandHead:
		return h.head
	case HandRight:
		return h.right
	case HandLeft:
		return h.left
	default:
		return nil
	}
}

func (h hands) avatar() session.Avatar {
	return session.Avatar{Head: h.head.part, RightHand: h.right.part, LeftHand: h.left.part}
}
