// Package scene loads scene definitions from YAML and instantiates them as
// in-memory worlds for headless participants.
package scene

import (
	"fmt"

	"github.com/cory-johannsen/vrsync/internal/grab"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// GrabbableDef describes one grabbable object and its starting pose.
type GrabbableDef struct {
	ID     string
	Config grab.Config
	Pose   spatial.Pose
}

// Definition is a validated scene: its grabbables and animation targets.
type Definition struct {
	ID         string
	Grabbables []GrabbableDef
	Animators  []string
}

// Validate checks identity uniqueness and per-object numeric constraints.
//
// Postcondition: Returns nil if the definition can be instantiated.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("scene ID must not be empty")
	}
	seen := make(map[string]bool, len(d.Grabbables))
	for i, g := range d.Grabbables {
		if g.ID == "" {
			return fmt.Errorf("scene %q: grabbable %d: id must not be empty", d.ID, i)
		}
		if seen[g.ID] {
			return fmt.Errorf("scene %q: duplicate grabbable id %q", d.ID, g.ID)
		}
		seen[g.ID] = true

		if s := g.Config.ScalingSensitivity; s < 0 || s > grab.MaxScalingSensitivity {
			return fmt.Errorf("scene %q: grabbable %q: scaling_factor %v outside [0, %v]",
				d.ID, g.ID, s, grab.MaxScalingSensitivity)
		}
		if g.Pose.Rotation.Len() < spatial.Epsilon {
			return fmt.Errorf("scene %q: grabbable %q: rotation must not be zero", d.ID, g.ID)
		}
		for axis, c := range g.Pose.Scale {
			if c > -spatial.Epsilon && c < spatial.Epsilon {
				return fmt.Errorf("scene %q: grabbable %q: scale component %d must not be zero", d.ID, g.ID, axis)
			}
		}
	}

	animators := make(map[string]bool, len(d.Animators))
	for i, id := range d.Animators {
		if id == "" {
			return fmt.Errorf("scene %q: animator %d: id must not be empty", d.ID, i)
		}
		if animators[id] {
			return fmt.Errorf("scene %q: duplicate animator id %q", d.ID, id)
		}
		animators[id] = true
	}
	return nil
}
