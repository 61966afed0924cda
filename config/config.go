package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tramtrack/tracking"
)

// Roles a process can run as.
const (
	RoleReplica  = "replica"
	RoleFrontEnd = "frontend"
	RoleTram     = "tram"
	RoleAll      = "all"
)

// FrontEndService is the name the front end registers on the transport.
const FrontEndService = "frontEnd"

type Node struct {
	Name string
	Host string
	Port int
}

func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Config is fixed at process start; nothing is reloaded at runtime.
type Config struct {
	Role string
	Name string // replica display name, also its service name
	Port int    // port this process serves on

	FrontEnd Node   // where trams reach the front end
	Replicas []Node // replica managers the front end connects to

	Routes        []tracking.Route
	TramsPerRoute int
	Trams         int // trams to start for role tram/all

	MinTravel   time.Duration
	MaxTravel   time.Duration
	RetryDelay  time.Duration
	CallTimeout time.Duration

	MetricsAddr string
}

// Default reproduces the stock deployment: a front end on 9317 and replica
// managers rm1, rm2, rm3 on 9318-9320, all on localhost.
func Default() *Config {
	return &Config{
		Role:     RoleAll,
		Name:     "rm1",
		FrontEnd: Node{Name: FrontEndService, Host: "localhost", Port: 9317},
		Replicas: []Node{
			{Name: "rm1", Host: "localhost", Port: 9318},
			{Name: "rm2", Host: "localhost", Port: 9319},
			{Name: "rm3", Host: "localhost", Port: 9320},
		},
		Routes:        tracking.DefaultRoutes(),
		TramsPerRoute: tracking.DefaultTramsPerRoute,
		Trams:         1,
		MinTravel:     10 * time.Second,
		MaxTravel:     20 * time.Second,
		RetryDelay:    time.Second,
		CallTimeout:   5 * time.Second,
	}
}

func (c *Config) Validate() error {
	switch c.Role {
	case RoleReplica, RoleFrontEnd, RoleTram, RoleAll:
	default:
		return errors.Newf("unknown role %q", c.Role)
	}
	if (c.Role == RoleFrontEnd || c.Role == RoleAll) && len(c.Replicas) == 0 {
		return errors.New("front end needs at least one replica")
	}
	if c.Role == RoleReplica && c.Name == "" {
		return errors.New("replica needs a name")
	}
	if _, err := tracking.NewRoutes(c.Routes); err != nil {
		return err
	}
	if c.TramsPerRoute <= 0 {
		return errors.Newf("trams per route must be positive, got %d", c.TramsPerRoute)
	}
	if c.MinTravel < 0 || c.MaxTravel < c.MinTravel {
		return errors.Newf("travel window %s..%s is invalid", c.MinTravel, c.MaxTravel)
	}
	return nil
}

// ParseNode parses "host:port".
func ParseNode(name, addr string) (Node, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Node{}, errors.Wrapf(err, "invalid addr %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 0xFFFF {
		return Node{}, errors.Newf("invalid port %q in %q", portStr, addr)
	}
	return Node{Name: name, Host: host, Port: port}, nil
}

// ParseReplicaSet parses "rm1=localhost:9318,rm2=localhost:9319".
func ParseReplicaSet(s string) ([]Node, error) {
	var out []Node
	seen := map[string]bool{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, addr, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			return nil, errors.Newf("replica entry %q, expected name=host:port", entry)
		}
		if seen[name] {
			return nil, errors.Newf("replica %s listed twice", name)
		}
		seen[name] = true
		n, err := ParseNode(name, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func FormatReplicaSet(nodes []Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, n.Name+"="+n.Addr())
	}
	return strings.Join(parts, ",")
}

// ParseRoutes parses "1=1,2,3,4,5;96=23,24,2,34,22". Declaration order is kept.
func ParseRoutes(s string) ([]tracking.Route, error) {
	var out []tracking.Route
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, stopsStr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, errors.Newf("route entry %q, expected id=stop,stop,...", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			return nil, errors.Wrapf(err, "route id in %q", entry)
		}
		var stops []int
		for _, st := range strings.Split(stopsStr, ",") {
			stop, err := strconv.Atoi(strings.TrimSpace(st))
			if err != nil {
				return nil, errors.Wrapf(err, "stop in route %d", id)
			}
			stops = append(stops, stop)
		}
		out = append(out, tracking.Route{ID: id, Stops: stops})
	}
	return out, nil
}

func FormatRoutes(routes []tracking.Route) string {
	parts := make([]string, 0, len(routes))
	for _, r := range routes {
		stops := make([]string, 0, len(r.Stops))
		for _, s := range r.Stops {
			stops = append(stops, strconv.Itoa(s))
		}
		parts = append(parts, fmt.Sprintf("%d=%s", r.ID, strings.Join(stops, ",")))
	}
	return strings.Join(parts, ";")
}
