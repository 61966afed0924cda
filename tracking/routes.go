package tracking

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrUnknownRoute   = errors.New("unknown route")
	ErrStopNotOnRoute = errors.New("stop not on route")
)

// Route is a fixed, bidirectional sequence of stops.
type Route struct {
	ID    int
	Stops []int
}

// Routes is the immutable route table. Declaration order matters: it is the
// order in which tram slot blocks are handed to routes.
type Routes struct {
	order []Route
	byID  map[int][]int
}

func NewRoutes(routes []Route) (*Routes, error) {
	r := &Routes{byID: make(map[int][]int, len(routes))}
	for _, route := range routes {
		if len(route.Stops) < 2 {
			return nil, errors.Newf("route %d has %d stops, need at least 2", route.ID, len(route.Stops))
		}
		if _, dup := r.byID[route.ID]; dup {
			return nil, errors.Newf("route %d declared twice", route.ID)
		}
		stops := append([]int(nil), route.Stops...)
		r.byID[route.ID] = stops
		r.order = append(r.order, Route{ID: route.ID, Stops: stops})
	}
	return r, nil
}

// Len returns the number of configured routes.
func (r *Routes) Len() int { return len(r.order) }

// At returns the route at position i in declaration order.
func (r *Routes) At(i int) Route { return r.order[i] }

func (r *Routes) Stops(routeID int) ([]int, bool) {
	stops, ok := r.byID[routeID]
	return stops, ok
}

func (r *Routes) FirstStop(routeID int) (int, error) {
	stops, ok := r.byID[routeID]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownRoute, "route %d", routeID)
	}
	return stops[0], nil
}

func (r *Routes) SecondStop(routeID int) (int, error) {
	stops, ok := r.byID[routeID]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownRoute, "route %d", routeID)
	}
	return stops[1], nil
}

// NextStop returns the stop a tram reaches after currentStop, having come
// from previousStop. At index 0 the tram always moves forward; elsewhere it
// moves forward only when it came from the stop just before it and is not
// at the last index, otherwise it turns back.
func (r *Routes) NextStop(routeID, currentStop, previousStop int) (int, error) {
	stops, ok := r.byID[routeID]
	if !ok {
		return -1, errors.Wrapf(ErrUnknownRoute, "route %d", routeID)
	}
	for i, stop := range stops {
		if stop != currentStop {
			continue
		}
		if i == 0 || (i != len(stops)-1 && previousStop == stops[i-1]) {
			return stops[i+1], nil
		}
		return stops[i-1], nil
	}
	return -1, errors.Wrapf(ErrStopNotOnRoute, "stop %d on route %d", currentStop, routeID)
}
