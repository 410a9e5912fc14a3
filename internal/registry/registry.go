// Package registry maps cross-peer object ids to local grabbables and animators.
//
// A Registry is not safe for concurrent use; it is owned by the session loop.
package registry

import (
	"sort"
	"strings"

	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/grab"
)

// Entry is what a single id resolves to. Either field may be nil.
type Entry struct {
	Grabbable *grab.Object
	Animator  animation.Target
}

// Registry is the id → object table.
type Registry struct {
	entries map[string]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

func (r *Registry) entry(id string) *Entry {
	e, ok := r.entries[id]
	if !ok {
		e = &Entry{}
		r.entries[id] = e
	}
	return e
}

// RegisterGrabbable binds obj under its own id. Re-registering replaces the binding.
//
// Precondition: obj must not be nil.
func (r *Registry) RegisterGrabbable(obj *grab.Object) {
	r.entry(obj.ID()).Grabbable = obj
}

// RegisterAnimator binds target under id.
//
// Precondition: target must not be nil.
func (r *Registry) RegisterAnimator(id string, target animation.Target) {
	r.entry(id).Animator = target
}

// Unregister removes id. Missing ids are a no-op.
func (r *Registry) Unregister(id string) {
	delete(r.entries, id)
}

// UnregisterPrefix removes every id starting with prefix and returns the removed ids, sorted.
func (r *Registry) UnregisterPrefix(prefix string) []string {
	var removed []string
	for id := range r.entries {
		if strings.HasPrefix(id, prefix) {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		delete(r.entries, id)
	}
	return removed
}

// Lookup resolves id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Grabbable resolves id to its grabbable, or nil.
func (r *Registry) Grabbable(id string) *grab.Object {
	if e, ok := r.entries[id]; ok {
		return e.Grabbable
	}
	return nil
}

// Animator resolves id to its animator, or nil.
func (r *Registry) Animator(id string) animation.Target {
	if e, ok := r.entries[id]; ok {
		return e.Animator
	}
	return nil
}

// Grabbables returns every registered grabbable ordered by id.
func (r *Registry) Grabbables() []*grab.Object {
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.Grabbable != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*grab.Object, len(ids))
	for i, id := range ids {
		out[i] = r.entries[id].Grabbable
	}
	return out
}

// Len returns the number of registered ids.
func (r *Registry) Len() int { return len(r.entries) }

// Reset drops every binding.
func (r *Registry) Reset() {
	r.entries = make(map[string]*Entry)
}
