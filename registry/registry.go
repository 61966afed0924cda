// Package registry keeps the front end's view of its replica managers:
// which are connected, how to reach them, and which answer a liveness probe
// right now.
package registry

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"tramtrack/config"
	"tramtrack/message"
	"tramtrack/transport"
)

// AliveProcedure is the no-op every replica answers.
const AliveProcedure = message.AliveCall

// Conn is a live handle on one replica.
type Conn interface {
	Invoke(ctx context.Context, procedure string, payload []byte) ([]byte, error)
	Close() error
}

// Dialer resolves a replica's service at host:port.
type Dialer func(ctx context.Context, host string, port int, service string) (Conn, error)

// TransportDialer resolves replicas over the transport package.
func TransportDialer(ctx context.Context, host string, port int, service string) (Conn, error) {
	h, err := transport.Resolve(ctx, host, port, service)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// retrySchedule is replayed by a connection monitor between dial attempts;
// the last entry repeats.
var retrySchedule = []time.Duration{
	100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond,
	500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second,
}

// Descriptor is one configured replica. It is never removed, only toggled
// between connected and disconnected.
type Descriptor struct {
	Name string
	Host string
	Port int

	connected  bool
	conn       Conn
	monitoring bool
}

func (d *Descriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Replica is a live replica as returned by LiveReplicas.
type Replica struct {
	Name string
	Conn
}

// Status is one line of the availability report.
type Status struct {
	Name      string
	Addr      string
	Connected bool
}

type Registry struct {
	mu           sync.RWMutex
	replicas     []*Descriptor
	dial         Dialer
	dialTimeout  time.Duration
	probeTimeout time.Duration
	schedule     []time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

func New(nodes []config.Node, dial Dialer) *Registry {
	r := &Registry{
		dial:         dial,
		dialTimeout:  2 * time.Second,
		probeTimeout: 2 * time.Second,
		schedule:     retrySchedule,
		ctx:          context.Background(),
	}
	for _, n := range nodes {
		r.replicas = append(r.replicas, &Descriptor{Name: n.Name, Host: n.Host, Port: n.Port})
	}
	return r
}

// SetTimeouts overrides the per-attempt dial and probe timeouts.
func (r *Registry) SetTimeouts(dial, probe time.Duration) {
	r.dialTimeout = dial
	r.probeTimeout = probe
}

// Start launches one connection monitor per replica. Monitors stop when
// ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	for _, d := range r.replicas {
		r.spawnMonitorLocked(d)
	}
	r.mu.Unlock()
}

// Wait blocks until every monitor has exited.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) spawnMonitorLocked(d *Descriptor) {
	if d.monitoring || d.connected || r.ctx.Err() != nil {
		return
	}
	d.monitoring = true
	r.wg.Add(1)
	go r.monitor(r.ctx, d)
}

// monitor dials d until it succeeds or ctx ends.
func (r *Registry) monitor(ctx context.Context, d *Descriptor) {
	defer r.wg.Done()

	for attempt := 0; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, r.dialTimeout)
		conn, err := r.dial(dialCtx, d.Host, d.Port, d.Name)
		cancel()

		if err == nil {
			r.mu.Lock()
			d.conn = conn
			d.connected = true
			d.monitoring = false
			r.mu.Unlock()
			log.Printf("[✅] Connected to replica %s at %s after %d attempt(s)", d.Name, d.Addr(), attempt+1)
			return
		}
		if attempt == 0 {
			log.Printf("[WARN] Replica %s at %s not reachable yet: %v", d.Name, d.Addr(), err)
		}

		wait := r.schedule[min(attempt, len(r.schedule)-1)]
		select {
		case <-ctx.Done():
			r.mu.Lock()
			d.monitoring = false
			r.mu.Unlock()
			return
		case <-time.After(wait):
		}
	}
}

// LiveReplicas probes every connected replica and returns those that
// answered, in configuration order. Replicas that fail the probe are
// flipped to disconnected and a monitor starts reconnecting them. It never
// fails; an unreachable replica is simply not live.
func (r *Registry) LiveReplicas(ctx context.Context) []Replica {
	var candidates []Replica
	r.mu.RLock()
	for _, d := range r.replicas {
		if d.connected {
			candidates = append(candidates, Replica{Name: d.Name, Conn: d.conn})
		}
	}
	r.mu.RUnlock()

	live := make([]Replica, 0, len(candidates))
	for _, rep := range candidates {
		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		_, err := rep.Invoke(probeCtx, AliveProcedure, nil)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				// the caller gave up; that says nothing about the replica
				break
			}
			log.Printf("[WARN] Replica %s failed liveness probe: %v", rep.Name, err)
			r.MarkDown(rep)
			continue
		}
		live = append(live, rep)
	}
	return live
}

// MarkDown flips rep to disconnected if it still holds the same handle and
// starts reconnecting it.
func (r *Registry) MarkDown(rep Replica) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.replicas {
		if d.Name != rep.Name || !d.connected || d.conn != rep.Conn {
			continue
		}
		d.connected = false
		d.conn = nil
		rep.Conn.Close()
		log.Printf("[WARN] Replica %s marked disconnected, reconnecting", d.Name)
		r.spawnMonitorLocked(d)
		return
	}
}

// Availability reports the connection state of every configured replica.
func (r *Registry) Availability() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.replicas))
	for _, d := range r.replicas {
		out = append(out, Status{Name: d.Name, Addr: d.Addr(), Connected: d.connected})
	}
	return out
}

// Close drops every live handle. Monitors are stopped by cancelling the
// context given to Start.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.replicas {
		if d.conn != nil {
			d.conn.Close()
			d.conn = nil
		}
		d.connected = false
	}
}
