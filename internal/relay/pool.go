package relay

import "sort"

// allocationPool records which seat simulates gravity for each object.
// At most one seat holds an object at a time.
type allocationPool struct {
	holders map[string]int
}

func newAllocationPool() *allocationPool {
	return &allocationPool{holders: make(map[string]int)}
}

// claim allocates id to seat unless live reports that the current holder is
// still connected. It returns the seat that holds id afterwards.
//
// Postcondition: id is held by exactly one seat.
func (p *allocationPool) claim(id string, seat int, live func(int) bool) int {
	if cur, ok := p.holders[id]; ok && live(cur) {
		return cur
	}
	p.holders[id] = seat
	return seat
}

// release drops id if seat holds it and reports whether it did.
func (p *allocationPool) release(id string, seat int) bool {
	if cur, ok := p.holders[id]; ok && cur == seat {
		delete(p.holders, id)
		return true
	}
	return false
}

// reassign moves every object held by from to seat to. A negative to
// drops them instead. It returns the affected ids in sorted order.
func (p *allocationPool) reassign(from, to int) []string {
	var moved []string
	for id, seat := range p.holders {
		if seat != from {
			continue
		}
		moved = append(moved, id)
		if to < 0 {
			delete(p.holders, id)
		} else {
			p.holders[id] = to
		}
	}
	sort.Strings(moved)
	return moved
}

// ids returns every pooled object id in sorted order.
func (p *allocationPool) ids() []string {
	out := make([]string, 0, len(p.holders))
	for id := range p.holders {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// snapshot returns a copy of the id to seat mapping.
func (p *allocationPool) snapshot() map[string]int {
	out := make(map[string]int, len(p.holders))
	for id, seat := range p.holders {
		out[id] = seat
	}
	return out
}
