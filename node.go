package main

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"tramtrack/bus"
	"tramtrack/config"
	"tramtrack/engine"
	"tramtrack/frontend"
	"tramtrack/registry"
	"tramtrack/replica"
	"tramtrack/tracking"
	"tramtrack/tram"
	"tramtrack/transport"
	"tramtrack/utils"
)

// startReplica serves one replica manager and its admin bus.
func startReplica(ctx context.Context, wg *sync.WaitGroup, routes *tracking.Routes, node config.Node) error {
	db, err := engine.NewEngine(node.Name)
	if err != nil {
		return err
	}
	mgr := replica.NewManager(node.Name, routes, db)

	addr := ":" + strconv.Itoa(node.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		db.Close()
		return errors.Wrapf(err, "replica %s at port %d", node.Name, node.Port)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer db.Close()
		if err := transport.Serve(ctx, lis, node.Name, mgr); err != nil {
			log.Printf("[ERROR] replica %s: %v", node.Name, err)
		}
	}()
	log.Printf("🚋Replica %s started at port:%d", node.Name, node.Port)
	log.Printf("📦Server ID:%s", mgr.ID)

	return startBus(ctx, wg, addr, &bus.Server{
		ID:        mgr.ID,
		Role:      config.RoleReplica,
		Name:      node.Name,
		Addr:      node.Addr(),
		Locations: mgr,
	})
}

// startFrontEnd connects to the replica managers and serves the front end.
func startFrontEnd(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, routes *tracking.Routes, promReg prometheus.Registerer) error {
	reg := registry.New(cfg.Replicas, registry.TransportDialer)
	reg.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		reg.Wait()
		reg.Close()
	}()

	fe := frontend.New(reg, routes, cfg.TramsPerRoute, frontend.NewMetrics(promReg))
	fe.SetCallTimeout(cfg.CallTimeout)

	addr := ":" + strconv.Itoa(cfg.FrontEnd.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "front end at port %d", cfg.FrontEnd.Port)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := transport.Serve(ctx, lis, config.FrontEndService, fe); err != nil {
			log.Printf("[ERROR] front end: %v", err)
		}
	}()
	log.Printf("🚦Front end started at port:%d", cfg.FrontEnd.Port)
	log.Printf("📦Server ID:%s", fe.ID)
	log.Printf("🌐Replicas: %s", config.FormatReplicaSet(cfg.Replicas))

	return startBus(ctx, wg, addr, &bus.Server{
		ID:       fe.ID,
		Role:     config.RoleFrontEnd,
		Name:     config.FrontEndService,
		Addr:     cfg.FrontEnd.Addr(),
		Replicas: fe,
	})
}

func startBus(ctx context.Context, wg *sync.WaitGroup, serviceAddr string, s *bus.Server) error {
	busAddr, err := utils.BusAddr(serviceAddr)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", busAddr)
	if err != nil {
		return errors.Wrapf(err, "bus for %s at %s", s.Name, busAddr)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bus.NewBusRoute(ctx, lis, s); err != nil {
			log.Printf("[ERROR] bus %s: %v", s.Name, err)
		}
	}()
	log.Printf("🔧Bus for %s at %s", s.Name, busAddr)
	return nil
}

// runTrams starts cfg.Trams trams against the configured front end.
func runTrams(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config) {
	opts := tram.Options{MinTravel: cfg.MinTravel, MaxTravel: cfg.MaxTravel, RetryDelay: cfg.RetryDelay}
	for i := 0; i < cfg.Trams; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, h, err := dialFrontEnd(ctx, cfg.FrontEnd)
			if err != nil {
				log.Printf("[ERROR] tram: %v", err)
				return
			}
			defer h.Close()
			if err := tram.New(client, opts).Run(ctx); err != nil {
				log.Printf("[ERROR] tram: %v", err)
			}
		}()
	}
}

// dialFrontEnd keeps resolving the front end until it is bound or ctx ends.
func dialFrontEnd(ctx context.Context, node config.Node) (*frontend.Client, *transport.Handle, error) {
	backoff := 100 * time.Millisecond
	for {
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		client, h, err := frontend.Dial(dialCtx, node)
		cancel()
		if err == nil {
			return client, h, nil
		}
		log.Printf("[WARN] front end at %s not ready: %v", node.Addr(), err)

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, 5*time.Second)
	}
}
