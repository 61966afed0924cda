package frontend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Fanouts         *prometheus.CounterVec
	ReplicaFailures *prometheus.CounterVec
	NoLiveReplicas  prometheus.Counter
	DivergentReads  prometheus.Counter
	LiveReplicas    prometheus.Gauge
	TramsAllocated  prometheus.Gauge
}

// NewMetrics registers the front end's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fanouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tramtrack",
			Subsystem: "frontend",
			Name:      "fanouts_total",
			Help:      "Calls fanned out to the live replicas, by procedure.",
		}, []string{"procedure"}),
		ReplicaFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tramtrack",
			Subsystem: "frontend",
			Name:      "replica_failures_total",
			Help:      "Replica calls that produced no usable reply, by replica and reason.",
		}, []string{"replica", "reason"}),
		NoLiveReplicas: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tramtrack",
			Subsystem: "frontend",
			Name:      "no_live_replicas_total",
			Help:      "Calls dropped because no replica was live.",
		}),
		DivergentReads: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tramtrack",
			Subsystem: "frontend",
			Name:      "divergent_fanouts_total",
			Help:      "Fan-outs in which replicas returned different replies.",
		}),
		LiveReplicas: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tramtrack",
			Subsystem: "frontend",
			Name:      "live_replicas",
			Help:      "Replicas that answered the last liveness probe.",
		}),
		TramsAllocated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tramtrack",
			Subsystem: "frontend",
			Name:      "trams_allocated",
			Help:      "Tram slots handed out so far.",
		}),
	}
}
