package tracking

// DefaultRoutes is the tram network the service ships with.
func DefaultRoutes() []Route {
	return []Route{
		{ID: 1, Stops: []int{1, 2, 3, 4, 5}},
		{ID: 96, Stops: []int{23, 24, 2, 34, 22}},
		{ID: 101, Stops: []int{123, 11, 22, 34, 5, 4, 7}},
		{ID: 109, Stops: []int{88, 87, 85, 80, 9, 7, 2, 1}},
		{ID: 112, Stops: []int{110, 123, 11, 22, 34, 33, 29, 4}},
	}
}

const DefaultTramsPerRoute = 5
