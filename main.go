package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tramtrack/config"
	"tramtrack/tracking"
)

func main() {
	cfg := config.Default()

	role := flag.String("role", cfg.Role, "what to run: replica, frontend, tram or all")
	port := flag.Int("port", 0, "port to serve on (default: taken from -replicas or -frontend)")
	name := flag.String("name", cfg.Name, "replica name, also its service name")
	replicas := flag.String("replicas", config.FormatReplicaSet(cfg.Replicas), "replica managers as name=host:port,...")
	frontEnd := flag.String("frontend", cfg.FrontEnd.Addr(), "front end address")
	routes := flag.String("routes", config.FormatRoutes(cfg.Routes), "route table as id=stop,stop,...;id=...")
	perRoute := flag.Int("trams_per_route", cfg.TramsPerRoute, "tram slots per route")
	trams := flag.Int("trams", cfg.Trams, "trams to run for role tram or all")
	minTravel := flag.Duration("min_travel", cfg.MinTravel, "shortest time between two stops")
	maxTravel := flag.Duration("max_travel", cfg.MaxTravel, "longest time between two stops")
	retryDelay := flag.Duration("retry_delay", cfg.RetryDelay, "pause before a tram retries a call")
	callTimeout := flag.Duration("call_timeout", cfg.CallTimeout, "deadline for one call to a replica")
	metricsAddr := flag.String("metrics_addr", "", "serve Prometheus metrics on this address (optional)")
	flag.Parse()

	var err error
	cfg.Role, cfg.Name, cfg.TramsPerRoute, cfg.Trams = *role, *name, *perRoute, *trams
	cfg.MinTravel, cfg.MaxTravel, cfg.RetryDelay, cfg.CallTimeout = *minTravel, *maxTravel, *retryDelay, *callTimeout
	cfg.MetricsAddr = *metricsAddr
	if cfg.Replicas, err = config.ParseReplicaSet(*replicas); err != nil {
		log.Fatalf("Invalid -replicas: %v", err)
	}
	if cfg.FrontEnd, err = config.ParseNode(config.FrontEndService, *frontEnd); err != nil {
		log.Fatalf("Invalid -frontend: %v", err)
	}
	if cfg.Routes, err = config.ParseRoutes(*routes); err != nil {
		log.Fatalf("Invalid -routes: %v", err)
	}
	cfg.Port = *port
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	routeTable, err := tracking.NewRoutes(cfg.Routes)
	if err != nil {
		log.Fatalf("Invalid route table: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, promReg)
	}

	var wg sync.WaitGroup
	switch cfg.Role {
	case config.RoleReplica:
		node, err := replicaNode(cfg)
		if err != nil {
			log.Fatalf("%v", err)
		}
		mustStart(startReplica(ctx, &wg, routeTable, node))
	case config.RoleFrontEnd:
		if cfg.Port != 0 {
			cfg.FrontEnd.Port = cfg.Port
		}
		mustStart(startFrontEnd(ctx, &wg, cfg, routeTable, promReg))
	case config.RoleTram:
		runTrams(ctx, &wg, cfg)
	case config.RoleAll:
		for _, node := range cfg.Replicas {
			mustStart(startReplica(ctx, &wg, routeTable, node))
		}
		mustStart(startFrontEnd(ctx, &wg, cfg, routeTable, promReg))
		runTrams(ctx, &wg, cfg)
	}

	<-ctx.Done()
	log.Printf("[INFO] Shutting down")
	wg.Wait()
}

func mustStart(err error) {
	if err != nil {
		log.Fatalf("Couldn't start: %v", err)
	}
}

// replicaNode finds this replica in the replica set, or builds it from
// -name and -port.
func replicaNode(cfg *config.Config) (config.Node, error) {
	for _, n := range cfg.Replicas {
		if n.Name == cfg.Name {
			if cfg.Port != 0 {
				n.Port = cfg.Port
			}
			return n, nil
		}
	}
	if cfg.Port == 0 {
		return config.Node{}, errors.Newf("replica %s is not in -replicas and has no -port", cfg.Name)
	}
	return config.Node{Name: cfg.Name, Host: "localhost", Port: cfg.Port}, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Printf("📈Metrics at http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[ERROR] metrics server: %v", err)
	}
}
