package tram

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"tramtrack/message"
	"tramtrack/tracking"
	"tramtrack/transport"
)

// replyFunc decides how the fake front end answers one call.
type replyFunc func(req message.Envelope) ([]byte, error)

type fakeFrontEnd struct {
	routes *tracking.Routes
	fleet  *tracking.Fleet
	callID int64

	script  []replyFunc // consumed one per tracking call; nil answers correctly
	sent    []message.Envelope
	located map[int]int
}

func newFakeFrontEnd(t *testing.T, perRoute int) *fakeFrontEnd {
	t.Helper()
	routes, err := tracking.NewRoutes(tracking.DefaultRoutes())
	if err != nil {
		t.Fatal(err)
	}
	return &fakeFrontEnd{routes: routes, fleet: tracking.NewFleet(routes, perRoute), located: map[int]int{}}
}

func (f *fakeFrontEnd) AllocateTramID(context.Context) (int, error) { return f.fleet.Allocate(), nil }

func (f *fakeFrontEnd) RouteForTram(_ context.Context, id int) (int, error) {
	route, _ := f.fleet.RouteFor(id)
	return route, nil
}

func (f *fakeFrontEnd) FirstStop(_ context.Context, route int) (int, error) {
	return f.routes.FirstStop(route)
}

func (f *fakeFrontEnd) SecondStop(_ context.Context, route int) (int, error) {
	return f.routes.SecondStop(route)
}

func (f *fakeFrontEnd) NextCallID(context.Context) (int64, error) {
	f.callID++
	return f.callID, nil
}

func (f *fakeFrontEnd) RetrieveNextStop(_ context.Context, raw []byte) ([]byte, error) {
	return f.serve(raw)
}

func (f *fakeFrontEnd) UpdateTramLocation(_ context.Context, raw []byte) ([]byte, error) {
	return f.serve(raw)
}

func (f *fakeFrontEnd) serve(raw []byte) ([]byte, error) {
	req, err := message.Decode(raw)
	if err != nil {
		return nil, err
	}
	f.sent = append(f.sent, req)

	if len(f.script) > 0 {
		next := f.script[0]
		f.script = f.script[1:]
		if next != nil {
			return next(req)
		}
	}
	return f.answer(req)
}

func (f *fakeFrontEnd) answer(req message.Envelope) ([]byte, error) {
	parsed, err := message.ParseRequest(req)
	if err != nil {
		return nil, err
	}
	switch r := parsed.(type) {
	case message.NextStopQuery:
		next, err := f.routes.NextStop(r.RouteID, r.CurrentStop, r.PreviousStop)
		if err != nil {
			return message.Encode(message.ReplyTo(req, message.Failure, "-1"))
		}
		return message.Encode(message.ReplyTo(req, message.Success, strconv.Itoa(next)))
	case message.LocationUpdate:
		f.located[r.TramID] = r.StopID
		return message.Encode(message.ReplyTo(req, message.Success, ""))
	}
	return nil, errors.New("unreachable")
}

func options() Options {
	return Options{RetryDelay: time.Millisecond}
}

func connected(t *testing.T, fe *fakeFrontEnd) *Tram {
	t.Helper()
	tr := New(fe, options())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestConnectSeedsAtFirstStop(t *testing.T) {
	fe := newFakeFrontEnd(t, 1)
	ctx := context.Background()

	want := []struct{ id, route, first, second int }{
		{0, 1, 1, 2}, {1, 96, 23, 24}, {2, 101, 123, 11}, {3, 109, 88, 87}, {4, 112, 110, 123},
	}
	for _, w := range want {
		tr := New(fe, options())
		if err := tr.Connect(ctx); err != nil {
			t.Fatal(err)
		}
		if tr.ID != w.id || tr.Route != w.route || tr.Current != w.first || tr.Previous != w.second {
			t.Errorf("tram %d: route %d at %d from %d", tr.ID, tr.Route, tr.Current, tr.Previous)
		}
	}

	if err := New(fe, options()).Connect(ctx); !errors.Is(err, ErrNoTramSlots) {
		t.Fatalf("Connect on a full fleet = %v", err)
	}
}

func TestWalksRouteOne(t *testing.T) {
	fe := newFakeFrontEnd(t, 5)
	tr := connected(t, fe)
	ctx := context.Background()

	var visited []int
	for i := 0; i < 6; i++ {
		next, err := tr.NextStop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		tr.Advance(next)
		if err := tr.UpdateLocation(ctx); err != nil {
			t.Fatal(err)
		}
		visited = append(visited, next)
	}
	want := []int{2, 3, 4, 5, 4, 3}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
	if fe.located[0] != 3 {
		t.Errorf("located at %d", fe.located[0])
	}

	// each logical operation gets its own transaction and request id
	for i, req := range fe.sent {
		if req.TransactionID != int64(i+1) || req.RequestID != int64(i+1) || req.CallID != int64(i+1) {
			t.Fatalf("call %d carried %v", i, req)
		}
	}
}

func TestRetriesKeepTransactionAndLeaseNewCallID(t *testing.T) {
	fe := newFakeFrontEnd(t, 5)
	tr := connected(t, fe)

	mismatch := func(req message.Envelope) ([]byte, error) {
		req.CallID += 100
		return message.Encode(message.ReplyTo(req, message.Success, "2"))
	}
	noReply := func(message.Envelope) ([]byte, error) {
		return nil, errors.Wrap(transport.ErrNoReply, "no live replicas")
	}
	failure := func(req message.Envelope) ([]byte, error) {
		return message.Encode(message.ReplyTo(req, message.Failure, "-1"))
	}
	garbage := func(message.Envelope) ([]byte, error) {
		return []byte("garbage"), nil
	}
	fe.script = []replyFunc{mismatch, noReply, failure, garbage}

	next, err := tr.NextStop(context.Background())
	if err != nil || next != 2 {
		t.Fatalf("NextStop = %d, %v", next, err)
	}
	if len(fe.sent) != 5 {
		t.Fatalf("sent %d attempts, want 5", len(fe.sent))
	}
	for i, req := range fe.sent {
		if req.TransactionID != 1 || req.RequestID != 1 {
			t.Errorf("attempt %d changed the operation ids: %v", i, req)
		}
		if req.CallID != int64(i+1) {
			t.Errorf("attempt %d reused call id %d", i, req.CallID)
		}
	}
}

func TestMaxAttempts(t *testing.T) {
	fe := newFakeFrontEnd(t, 5)
	tr := New(fe, Options{RetryDelay: time.Millisecond, MaxAttempts: 3})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	noReply := func(message.Envelope) ([]byte, error) { return nil, transport.ErrNoReply }
	fe.script = []replyFunc{noReply, noReply, noReply, noReply}

	if err := tr.UpdateLocation(context.Background()); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("err = %v", err)
	}
	if len(fe.sent) != 3 {
		t.Errorf("sent %d attempts", len(fe.sent))
	}
}

func TestTransportFailureIsFatal(t *testing.T) {
	fe := newFakeFrontEnd(t, 5)
	tr := connected(t, fe)
	fe.script = []replyFunc{func(message.Envelope) ([]byte, error) {
		return nil, errors.Mark(errors.New("connection reset"), transport.ErrUnreachable)
	}}

	_, err := tr.NextStop(context.Background())
	if !errors.Is(err, ErrFrontEndUnreachable) {
		t.Fatalf("err = %v", err)
	}
	if len(fe.sent) != 1 {
		t.Errorf("retried a fatal failure %d times", len(fe.sent)-1)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fe := newFakeFrontEnd(t, 5)
	tr := New(fe, Options{MinTravel: time.Millisecond, MaxTravel: 2 * time.Millisecond, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunEndsOnFatalError(t *testing.T) {
	fe := newFakeFrontEnd(t, 5)
	fe.script = []replyFunc{nil, func(message.Envelope) ([]byte, error) {
		return nil, errors.Mark(errors.New("broken pipe"), transport.ErrUnreachable)
	}}
	tr := New(fe, Options{RetryDelay: time.Millisecond})

	if err := tr.Run(context.Background()); !errors.Is(err, ErrFrontEndUnreachable) {
		t.Fatalf("Run = %v", err)
	}
	if tr.Current != 2 {
		t.Errorf("tram stopped at %d, want 2", tr.Current)
	}
}
