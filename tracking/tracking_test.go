package tracking

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
)

func defaultRoutes(t *testing.T) *Routes {
	t.Helper()
	r, err := NewRoutes(DefaultRoutes())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNextStopDirectionRule(t *testing.T) {
	routes := defaultRoutes(t)
	for i := 0; i < routes.Len(); i++ {
		route := routes.At(i)
		s := route.Stops
		last := len(s) - 1

		// the first index always moves forward, whatever the previous stop
		for _, prev := range []int{s[1], -5, s[last]} {
			got, err := routes.NextStop(route.ID, s[0], prev)
			if err != nil || got != s[1] {
				t.Errorf("route %d: NextStop(%d, prev %d) = %d, %v; want %d", route.ID, s[0], prev, got, err, s[1])
			}
		}

		for j := 1; j < last; j++ {
			got, err := routes.NextStop(route.ID, s[j], s[j-1])
			if err != nil || got != s[j+1] {
				t.Errorf("route %d forward from %d: got %d, %v; want %d", route.ID, s[j], got, err, s[j+1])
			}
			got, err = routes.NextStop(route.ID, s[j], s[j+1])
			if err != nil || got != s[j-1] {
				t.Errorf("route %d backward from %d: got %d, %v; want %d", route.ID, s[j], got, err, s[j-1])
			}
		}

		got, err := routes.NextStop(route.ID, s[last], s[last-1])
		if err != nil || got != s[last-1] {
			t.Errorf("route %d reversal at %d: got %d, %v; want %d", route.ID, s[last], got, err, s[last-1])
		}
	}
}

func TestNextStopRouteOneScenario(t *testing.T) {
	routes := defaultRoutes(t)
	steps := []struct{ current, previous, want int }{
		{1, 2, 2},
		{2, 1, 3},
		{5, 4, 4},
		{4, 5, 3},
	}
	for _, st := range steps {
		got, err := routes.NextStop(1, st.current, st.previous)
		if err != nil || got != st.want {
			t.Errorf("NextStop(1, %d, %d) = %d, %v; want %d", st.current, st.previous, got, err, st.want)
		}
	}
}

func TestNextStopMisses(t *testing.T) {
	routes := defaultRoutes(t)
	if got, err := routes.NextStop(7, 1, 2); !errors.Is(err, ErrUnknownRoute) || got != -1 {
		t.Errorf("unknown route: %d, %v", got, err)
	}
	if got, err := routes.NextStop(1, 99, 2); !errors.Is(err, ErrStopNotOnRoute) || got != -1 {
		t.Errorf("stop not on route: %d, %v", got, err)
	}
}

func TestNewRoutesValidation(t *testing.T) {
	if _, err := NewRoutes([]Route{{ID: 1, Stops: []int{1}}}); err == nil {
		t.Error("expected error for single-stop route")
	}
	if _, err := NewRoutes([]Route{{ID: 1, Stops: []int{1, 2}}, {ID: 1, Stops: []int{3, 4}}}); err == nil {
		t.Error("expected error for duplicate route id")
	}
}

func TestFirstAndSecondStop(t *testing.T) {
	routes := defaultRoutes(t)
	first, err := routes.FirstStop(96)
	if err != nil || first != 23 {
		t.Errorf("FirstStop(96) = %d, %v", first, err)
	}
	second, err := routes.SecondStop(96)
	if err != nil || second != 24 {
		t.Errorf("SecondStop(96) = %d, %v", second, err)
	}
	if _, err := routes.FirstStop(2); !errors.Is(err, ErrUnknownRoute) {
		t.Errorf("FirstStop(2) err = %v", err)
	}
}

func TestAllocateConcurrent(t *testing.T) {
	routes := defaultRoutes(t)
	fleet := NewFleet(routes, DefaultTramsPerRoute)
	size := routes.Len() * DefaultTramsPerRoute
	if fleet.Size() != size {
		t.Fatalf("Size = %d, want %d", fleet.Size(), size)
	}

	const callers = 40
	results := make(chan int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- fleet.Allocate()
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	exhausted := 0
	for id := range results {
		if id == -1 {
			exhausted++
			continue
		}
		if seen[id] {
			t.Errorf("slot %d handed out twice", id)
		}
		seen[id] = true
	}
	if len(seen) != size || exhausted != callers-size {
		t.Errorf("allocated %d, exhausted %d; want %d and %d", len(seen), exhausted, size, callers-size)
	}
	if fleet.Assigned() != size {
		t.Errorf("Assigned = %d", fleet.Assigned())
	}
}

func TestAllocateAscending(t *testing.T) {
	fleet := NewFleet(defaultRoutes(t), 1)
	for want := 0; want < 5; want++ {
		if got := fleet.Allocate(); got != want {
			t.Fatalf("Allocate = %d, want %d", got, want)
		}
	}
	if got := fleet.Allocate(); got != -1 {
		t.Errorf("Allocate on exhausted pool = %d", got)
	}
}

func TestRouteFor(t *testing.T) {
	fleet := NewFleet(defaultRoutes(t), DefaultTramsPerRoute)
	cases := map[int]int{0: 1, 4: 1, 5: 96, 9: 96, 10: 101, 17: 109, 20: 112, 24: 112}
	for tram, want := range cases {
		got, ok := fleet.RouteFor(tram)
		if !ok || got != want {
			t.Errorf("RouteFor(%d) = %d, %v; want %d", tram, got, ok, want)
		}
	}
	for _, tram := range []int{-1, 25, 100} {
		if _, ok := fleet.RouteFor(tram); ok {
			t.Errorf("RouteFor(%d) found a route outside the pool", tram)
		}
	}
}

func TestCallSequence(t *testing.T) {
	var seq CallSequence
	if got := seq.Next(); got != 1 {
		t.Fatalf("first id = %d, want 1", got)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{1: true}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := seq.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("call id %d issued twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if got := seq.Next(); got != 802 {
		t.Errorf("next id = %d, want 802", got)
	}
}
