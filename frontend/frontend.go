// Package frontend is the single entry point trams talk to. It fans
// tracking calls out to every live replica manager and keeps the
// replica-independent setup state (tram slots, route table, call ids).
package frontend

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"tramtrack/message"
	"tramtrack/registry"
	"tramtrack/tracking"
	"tramtrack/transport"
	"tramtrack/utils"
)

var ErrNoLiveReplicas = errors.New("no live replicas")

// Registry is the part of registry.Registry the front end needs.
type Registry interface {
	LiveReplicas(ctx context.Context) []registry.Replica
	MarkDown(rep registry.Replica)
	Availability() []registry.Status
}

type FrontEnd struct {
	ID string

	registry    Registry
	routes      *tracking.Routes
	fleet       *tracking.Fleet
	calls       tracking.CallSequence
	metrics     *Metrics
	callTimeout time.Duration
}

// New builds a front end over reg. A nil metrics gets a private registry.
func New(reg Registry, routes *tracking.Routes, tramsPerRoute int, metrics *Metrics) *FrontEnd {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &FrontEnd{
		ID:          uuid.New().String(),
		registry:    reg,
		routes:      routes,
		fleet:       tracking.NewFleet(routes, tramsPerRoute),
		metrics:     metrics,
		callTimeout: 5 * time.Second,
	}
}

// SetCallTimeout bounds each replica invocation in a fan-out. Zero means
// only the caller's context applies.
func (f *FrontEnd) SetCallTimeout(d time.Duration) {
	f.callTimeout = d
}

func (f *FrontEnd) RetrieveNextStop(ctx context.Context, raw []byte) ([]byte, error) {
	return f.fanout(ctx, message.RetrieveNextStop, raw)
}

func (f *FrontEnd) UpdateTramLocation(ctx context.Context, raw []byte) ([]byte, error) {
	return f.fanout(ctx, message.UpdateTramLocation, raw)
}

// fanout calls every live replica in turn and returns the last reply.
// Replicas that cannot be reached are marked down and skipped.
func (f *FrontEnd) fanout(ctx context.Context, proc message.Procedure, raw []byte) ([]byte, error) {
	env, err := message.Decode(raw)
	if err != nil {
		log.Printf("[WARN] frontend: dropping %s call: %v", proc, err)
		return nil, errors.Wrapf(transport.ErrNoReply, "%s: %v", proc, err)
	}

	live := f.registry.LiveReplicas(ctx)
	f.metrics.LiveReplicas.Set(float64(len(live)))
	f.metrics.Fanouts.WithLabelValues(proc.String()).Inc()
	if len(live) == 0 {
		f.metrics.NoLiveReplicas.Inc()
		log.Printf("[ERROR] frontend: no live replica for %s tx:%d", proc, env.TransactionID)
		f.logAvailability()
		// callers see this as a no reply
		return nil, errors.Mark(ErrNoLiveReplicas, transport.ErrNoReply)
	}

	var (
		last      []byte
		lastFrom  string
		sum       uint16
		replied   bool
		divergent bool
	)
	for _, rep := range live {
		callCtx, cancel := f.callContext(ctx)
		out, err := rep.Invoke(callCtx, proc.String(), raw)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			switch {
			case errors.Is(err, transport.ErrUnreachable):
				f.metrics.ReplicaFailures.WithLabelValues(rep.Name, "unreachable").Inc()
				log.Printf("[WARN] frontend: replica %s unreachable: %v", rep.Name, err)
				f.registry.MarkDown(rep)
			case errors.Is(err, transport.ErrNoReply):
				f.metrics.ReplicaFailures.WithLabelValues(rep.Name, "no_reply").Inc()
				log.Printf("[WARN] frontend: replica %s dropped %s tx:%d", rep.Name, proc, env.TransactionID)
			default:
				f.metrics.ReplicaFailures.WithLabelValues(rep.Name, "remote").Inc()
				log.Printf("[WARN] frontend: replica %s failed %s: %v", rep.Name, proc, err)
			}
			continue
		}

		fp := utils.Fingerprint(out)
		if replied && fp != sum {
			divergent = true
		}
		last, lastFrom, sum, replied = out, rep.Name, fp, true
	}
	f.logAvailability()

	if !replied {
		return nil, errors.Wrapf(transport.ErrNoReply, "%s tx:%d: no replica replied", proc, env.TransactionID)
	}
	if divergent {
		f.metrics.DivergentReads.Inc()
		log.Printf("[WARN] frontend: replicas disagree on %s tx:%d, keeping reply from %s", proc, env.TransactionID, lastFrom)
	}
	return last, nil
}

func (f *FrontEnd) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.callTimeout > 0 {
		return context.WithTimeout(ctx, f.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (f *FrontEnd) logAvailability() {
	var b strings.Builder
	for _, s := range f.registry.Availability() {
		state := "off"
		if s.Connected {
			state = "on"
		}
		b.WriteString(" " + s.Name + "=" + state)
	}
	log.Printf("[INFO] frontend: tracking service availability:%s", b.String())
}

// AllocateTramID hands out the next free tram slot, or -1 when none are left.
func (f *FrontEnd) AllocateTramID(_ context.Context) (int, error) {
	id := f.fleet.Allocate()
	if id < 0 {
		log.Printf("[WARN] frontend: all %d tram slots are taken", f.fleet.Size())
		return id, nil
	}
	f.metrics.TramsAllocated.Inc()
	log.Printf("[INFO] frontend: tram %d joined", id)
	return id, nil
}

func (f *FrontEnd) RouteForTram(_ context.Context, tramID int) (int, error) {
	route, ok := f.fleet.RouteFor(tramID)
	if !ok {
		return -1, errors.Newf("tram %d is outside the slot pool", tramID)
	}
	return route, nil
}

func (f *FrontEnd) FirstStop(_ context.Context, routeID int) (int, error) {
	return f.routes.FirstStop(routeID)
}

func (f *FrontEnd) SecondStop(_ context.Context, routeID int) (int, error) {
	return f.routes.SecondStop(routeID)
}

func (f *FrontEnd) NextCallID(_ context.Context) (int64, error) {
	return f.calls.Next(), nil
}

// Availability reports every configured replica's connection state.
func (f *FrontEnd) Availability() []registry.Status {
	return f.registry.Availability()
}

// TramsAssigned is the number of tram slots handed out so far.
func (f *FrontEnd) TramsAssigned() int {
	return f.fleet.Assigned()
}
