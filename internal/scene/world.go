package scene

import (
	"sort"
	"time"

	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/grab"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

const (
	// StandardGravity is the free-fall acceleration applied by World.Step, in m/s².
	StandardGravity = 9.81
	// FloorHeight is the plane free-falling bodies come to rest on.
	FloorHeight = 0.0
)

// World is an instantiated scene: grabbables over memory bodies, animators,
// and the bodies spawned for remote avatars.
//
// World is not safe for concurrent use.
type World struct {
	id        string
	objects   []*grab.Object
	bodies    map[string]*MemoryBody
	animators map[string]*MemoryAnimator
	spawned   map[string]*MemoryBody
}

// Instantiate builds a World from def. Object order follows the definition.
//
// Precondition: def must be validated.
func Instantiate(def *Definition) *World {
	w := &World{
		id:        def.ID,
		bodies:    make(map[string]*MemoryBody, len(def.Grabbables)),
		animators: make(map[string]*MemoryAnimator, len(def.Animators)),
		spawned:   make(map[string]*MemoryBody),
	}
	for _, g := range def.Grabbables {
		body := NewMemoryBody(g.Pose)
		w.bodies[g.ID] = body
		w.objects = append(w.objects, grab.New(g.ID, body, g.Config))
	}
	for _, id := range def.Animators {
		w.animators[id] = NewMemoryAnimator()
	}
	return w
}

// ID returns the scene id.
func (w *World) ID() string { return w.id }

// Grabbables returns the scene objects in definition order.
func (w *World) Grabbables() []*grab.Object { return w.objects }

// Animators returns the scene's animation targets keyed by id.
func (w *World) Animators() map[string]animation.Target {
	out := make(map[string]animation.Target, len(w.animators))
	for id, a := range w.animators {
		out[id] = a
	}
	return out
}

// Object returns the grabbable with id, or nil.
func (w *World) Object(id string) *grab.Object {
	for _, obj := range w.objects {
		if obj.ID() == id {
			return obj
		}
	}
	return nil
}

// Body returns the memory body backing scene object id, or nil.
func (w *World) Body(id string) *MemoryBody { return w.bodies[id] }

// Animator returns the memory animator with id, or nil.
func (w *World) Animator(id string) *MemoryAnimator { return w.animators[id] }

// Spawn creates a body for a remote avatar part.
func (w *World) Spawn(id string) grab.Body {
	body := NewMemoryBody(spatial.Identity())
	w.spawned[id] = body
	return body
}

// Despawn destroys a remote avatar part's body.
func (w *World) Despawn(id string) { delete(w.spawned, id) }

// Spawned returns the ids of every live remote avatar part, sorted.
func (w *World) Spawned() []string {
	ids := make([]string, 0, len(w.spawned))
	for id := range w.spawned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Step advances free fall for every scene body and returns how many moved.
func (w *World) Step(dt time.Duration) int {
	moved := 0
	for _, obj := range w.objects {
		if w.bodies[obj.ID()].Step(dt, StandardGravity, FloorHeight) {
			moved++
		}
	}
	return moved
}
