// Package transport exposes handlers under a service name and lets peers
// resolve and invoke them. It is built on net/rpc; callers only see
// register / resolve / invoke.
package transport

import (
	"context"
	"log"
	"net"
	"net/rpc"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoReply means the handler deliberately produced no reply.
	ErrNoReply = errors.New("no reply")
	// ErrUnreachable marks any failure to reach the peer or finish the round trip.
	ErrUnreachable = errors.New("peer unreachable")
	ErrNotBound    = errors.New("service not bound")
	// ErrRemote means the peer was reached but its handler failed.
	ErrRemote = errors.New("remote handler failed")
)

// Handler serves the procedures of one named service.
type Handler interface {
	Handle(ctx context.Context, procedure string, payload []byte) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, procedure string, payload []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
	return f(ctx, procedure, payload)
}

type Args struct {
	Procedure string
	Payload   []byte
}

type Reply struct {
	Payload []byte
	NoReply bool
}

type endpoint struct {
	ctx context.Context
	h   Handler
}

func (e *endpoint) Invoke(args Args, reply *Reply) error {
	out, err := e.h.Handle(e.ctx, args.Procedure, args.Payload)
	if errors.Is(err, ErrNoReply) {
		reply.NoReply = true
		return nil
	}
	if err != nil {
		return err
	}
	reply.Payload = out
	return nil
}

// Bound answers resolve probes.
func (e *endpoint) Bound(_ Args, reply *bool) error {
	*reply = true
	return nil
}

// Serve registers h as service name and serves connections accepted on lis
// until ctx is cancelled. Cancelling also drops every open connection.
func Serve(ctx context.Context, lis net.Listener, name string, h Handler) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName(name, &endpoint{ctx: ctx, h: h}); err != nil {
		return errors.Wrapf(err, "register service %s", name)
	}

	var mu sync.Mutex
	conns := map[net.Conn]struct{}{}

	go func() {
		<-ctx.Done()
		lis.Close()
		mu.Lock()
		for c := range conns {
			c.Close()
		}
		mu.Unlock()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[WARN] %s: couldn't accept connection, err:%s", name, err.Error())
			continue
		}

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			conn.Close()
			return nil
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		go func() {
			srv.ServeConn(conn)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}

// Handle is a resolved, connected service.
type Handle struct {
	client  *rpc.Client
	service string
	addr    string
}

// Resolve dials host:port and checks that service is bound there.
func Resolve(ctx context.Context, host string, port int, service string) (*Handle, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "dial %s", addr), ErrUnreachable)
	}

	h := &Handle{client: rpc.NewClient(conn), service: service, addr: addr}
	var bound bool
	if err := h.call(ctx, service+".Bound", Args{}, &bound); err != nil {
		h.Close()
		var se rpc.ServerError
		if errors.As(err, &se) {
			return nil, errors.Mark(errors.Newf("%s at %s: %s", service, addr, string(se)), ErrNotBound)
		}
		return nil, err
	}
	return h, nil
}

func (h *Handle) Addr() string    { return h.addr }
func (h *Handle) Service() string { return h.service }

func (h *Handle) Close() error {
	return h.client.Close()
}

// Invoke calls procedure on the resolved service. A transport failure comes
// back marked ErrUnreachable; a handler that chose not to answer yields
// ErrNoReply.
func (h *Handle) Invoke(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
	var reply Reply
	err := h.call(ctx, h.service+".Invoke", Args{Procedure: procedure, Payload: payload}, &reply)
	if err != nil {
		var se rpc.ServerError
		if errors.As(err, &se) {
			return nil, errors.Mark(errors.Newf("%s.%s at %s: %s", h.service, procedure, h.addr, string(se)), ErrRemote)
		}
		return nil, err
	}
	if reply.NoReply {
		return nil, errors.Wrapf(ErrNoReply, "%s.%s at %s", h.service, procedure, h.addr)
	}
	return reply.Payload, nil
}

func (h *Handle) call(ctx context.Context, method string, args Args, reply any) error {
	call := h.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return errors.Mark(errors.Wrapf(ctx.Err(), "%s at %s", method, h.addr), ErrUnreachable)
	case c := <-call.Done:
		if c.Error == nil {
			return nil
		}
		var se rpc.ServerError
		if errors.As(c.Error, &se) {
			return c.Error
		}
		return errors.Mark(errors.Wrapf(c.Error, "%s at %s", method, h.addr), ErrUnreachable)
	}
}
