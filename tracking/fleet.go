package tracking

import (
	"sync"
	"sync/atomic"
)

// Fleet owns the fixed pool of tram slots. Slots are split into contiguous
// blocks of perRoute ids, one block per route in declaration order.
type Fleet struct {
	routes   *Routes
	perRoute int

	mu       sync.Mutex
	assigned []bool
}

func NewFleet(routes *Routes, perRoute int) *Fleet {
	return &Fleet{
		routes:   routes,
		perRoute: perRoute,
		assigned: make([]bool, routes.Len()*perRoute),
	}
}

// Size is the total number of slots, routes × trams per route.
func (f *Fleet) Size() int { return len(f.assigned) }

// Allocate hands out the lowest unassigned slot, or -1 once the pool is
// exhausted. Slots are never given back.
func (f *Fleet) Allocate() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, taken := range f.assigned {
		if !taken {
			f.assigned[id] = true
			return id
		}
	}
	return -1
}

// Assigned returns how many slots have been handed out.
func (f *Fleet) Assigned() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, taken := range f.assigned {
		if taken {
			n++
		}
	}
	return n
}

// RouteFor returns the route whose slot block contains tramID.
func (f *Fleet) RouteFor(tramID int) (int, bool) {
	if tramID < 0 || tramID >= len(f.assigned) {
		return -1, false
	}
	return f.routes.At(tramID / f.perRoute).ID, true
}

// CallSequence hands out call identifiers. The first value is 1.
type CallSequence struct {
	last atomic.Int64
}

func (c *CallSequence) Next() int64 {
	return c.last.Add(1)
}
