package scene

import (
	"sort"
	"time"

	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// MemoryBody is a grab.Body without a physics engine. With gravity on it
// free-falls onto a floor plane when stepped.
type MemoryBody struct {
	pose     spatial.Pose
	gravity  bool
	velocity spatial.Vec3

	// Moves and Sets count MoveTo and SetPose calls.
	Moves int
	Sets  int
}

// NewMemoryBody returns a body at pose with gravity off.
func NewMemoryBody(pose spatial.Pose) *MemoryBody {
	return &MemoryBody{pose: pose}
}

func (b *MemoryBody) Pose() spatial.Pose { return b.pose }

func (b *MemoryBody) SetPose(p spatial.Pose) {
	b.pose = p
	b.velocity = spatial.Vec3{}
	b.Sets++
}

func (b *MemoryBody) MoveTo(p spatial.Pose) {
	b.pose = p
	b.velocity = spatial.Vec3{}
	b.Moves++
}

func (b *MemoryBody) SetGravity(active bool) {
	b.gravity = active
	if !active {
		b.velocity = spatial.Vec3{}
	}
}

// Gravity reports whether the body is free-falling.
func (b *MemoryBody) Gravity() bool { return b.gravity }

// Step integrates free fall over dt with acceleration g, stopping at floor.
// Returns whether the body moved.
func (b *MemoryBody) Step(dt time.Duration, g, floor float64) bool {
	if !b.gravity || dt <= 0 {
		return false
	}
	if b.pose.Position[1] <= floor && b.velocity[1] <= 0 {
		b.velocity = spatial.Vec3{}
		return false
	}
	secs := dt.Seconds()
	b.velocity[1] -= g * secs
	b.pose.Position = b.pose.Position.Add(b.velocity.Mul(secs))
	if b.pose.Position[1] <= floor {
		b.pose.Position[1] = floor
		b.velocity = spatial.Vec3{}
	}
	return true
}

// MemoryAnimator records the last value written to each parameter.
type MemoryAnimator struct {
	Floats   map[string]float64
	Ints     map[string]int
	Bools    map[string]bool
	Triggers map[string]int
}

// NewMemoryAnimator returns an animator with no parameters set.
func NewMemoryAnimator() *MemoryAnimator {
	return &MemoryAnimator{
		Floats:   make(map[string]float64),
		Ints:     make(map[string]int),
		Bools:    make(map[string]bool),
		Triggers: make(map[string]int),
	}
}

func (a *MemoryAnimator) SetFloat(name string, v float64) { a.Floats[name] = v }
func (a *MemoryAnimator) SetInteger(name string, v int)   { a.Ints[name] = v }
func (a *MemoryAnimator) SetBool(name string, v bool)     { a.Bools[name] = v }

// SetTrigger counts how many times name fired.
func (a *MemoryAnimator) SetTrigger(name string) { a.Triggers[name]++ }

// Parameters returns every parameter name written so far, sorted.
func (a *MemoryAnimator) Parameters() []string {
	seen := make(map[string]bool)
	for k := range a.Floats {
		seen[k] = true
	}
	for k := range a.Ints {
		seen[k] = true
	}
	for k := range a.Bools {
		seen[k] = true
	}
	for k := range a.Triggers {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
