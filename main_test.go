package main

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tramtrack/config"
	"tramtrack/tracking"
	"tramtrack/tram"
	"tramtrack/utils"
)

func TestReplicaNode(t *testing.T) {
	cfg := config.Default()
	cfg.Name = "rm2"
	node, err := replicaNode(cfg)
	if err != nil || node.Port != 9319 {
		t.Fatalf("replicaNode = %+v, %v", node, err)
	}

	cfg.Port = 9400
	if node, _ := replicaNode(cfg); node.Port != 9400 {
		t.Errorf("-port not applied: %+v", node)
	}

	cfg.Name, cfg.Port = "rm9", 0
	if _, err := replicaNode(cfg); err == nil {
		t.Error("unknown replica without a port accepted")
	}
	cfg.Port = 9500
	if node, err := replicaNode(cfg); err != nil || node.Name != "rm9" || node.Port != 9500 {
		t.Errorf("replicaNode = %+v, %v", node, err)
	}
}

// freePort finds a port that is free together with its bus port.
func freePort(t *testing.T) int {
	t.Helper()
	for i := 0; i < 50; i++ {
		lis, err := net.Listen("tcp", ":0")
		if err != nil {
			t.Fatal(err)
		}
		port := lis.Addr().(*net.TCPAddr).Port
		if port+utils.BusPortOffset > 65535 {
			lis.Close()
			continue
		}
		bus, err := net.Listen("tcp", ":"+strconv.Itoa(port+utils.BusPortOffset))
		lis.Close()
		if err != nil {
			continue
		}
		bus.Close()
		return port
	}
	t.Fatal("no free port pair")
	return 0
}

func TestNodesServeTrams(t *testing.T) {
	cfg := config.Default()
	cfg.FrontEnd = config.Node{Name: config.FrontEndService, Host: "127.0.0.1", Port: freePort(t)}
	cfg.Replicas = nil
	for _, name := range []string{"rm1", "rm2"} {
		cfg.Replicas = append(cfg.Replicas, config.Node{Name: name, Host: "127.0.0.1", Port: freePort(t)})
	}
	cfg.CallTimeout = time.Second

	routes, err := tracking.NewRoutes(cfg.Routes)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("nodes did not stop")
		}
	})

	for _, node := range cfg.Replicas {
		if err := startReplica(ctx, &wg, routes, node); err != nil {
			t.Fatal(err)
		}
	}
	if err := startFrontEnd(ctx, &wg, cfg, routes, prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}

	client, h, err := dialFrontEnd(ctx, cfg.FrontEnd)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	tr := tram.New(client, tram.Options{RetryDelay: 20 * time.Millisecond, MaxAttempts: 100})
	if err := tr.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	next, err := tr.NextStop(ctx)
	if err != nil || next != 2 {
		t.Fatalf("NextStop = %d, %v", next, err)
	}
	tr.Advance(next)

	// replicas stay reachable once their monitors are done
	time.Sleep(200 * time.Millisecond)
	next, err = tr.NextStop(ctx)
	if err != nil || next != 3 {
		t.Fatalf("second NextStop = %d, %v", next, err)
	}
}
