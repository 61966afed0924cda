// Package tram drives one simulated tram against the front end: it asks for
// its next stop, travels there, then reports its new location, forever.
package tram

import (
	"context"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"tramtrack/message"
	"tramtrack/transport"
)

var (
	ErrNoTramSlots         = errors.New("no free tram slots")
	ErrFrontEndUnreachable = errors.New("front end unreachable")
	ErrCallMismatch        = errors.New("reply does not match request")
	ErrRejected            = errors.New("call rejected")
	ErrTooManyAttempts     = errors.New("too many attempts")
)

// FrontEnd is what a tram needs from the tracking service, local or remote.
type FrontEnd interface {
	AllocateTramID(ctx context.Context) (int, error)
	RouteForTram(ctx context.Context, tramID int) (int, error)
	FirstStop(ctx context.Context, routeID int) (int, error)
	SecondStop(ctx context.Context, routeID int) (int, error)
	NextCallID(ctx context.Context) (int64, error)
	RetrieveNextStop(ctx context.Context, raw []byte) ([]byte, error)
	UpdateTramLocation(ctx context.Context, raw []byte) ([]byte, error)
}

type Options struct {
	MinTravel  time.Duration
	MaxTravel  time.Duration
	RetryDelay time.Duration
	// MaxAttempts caps the attempts of one logical operation; 0 retries forever.
	MaxAttempts int
}

type Tram struct {
	ID       int
	Route    int
	Current  int
	Previous int
	Session  string

	fe            FrontEnd
	opts          Options
	transactionID int64
	requestID     int64
	rnd           *rand.Rand
	log           *log.Logger
}

func New(fe FrontEnd, opts Options) *Tram {
	return &Tram{
		ID:      -1,
		Session: uuid.New().String(),
		fe:      fe,
		opts:    opts,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log.New(os.Stderr, "tram ? ", log.LstdFlags),
	}
}

// Connect claims a tram slot and places the tram at the first stop of its
// route, as if it had just arrived there from the second stop.
func (t *Tram) Connect(ctx context.Context) error {
	id, err := t.fe.AllocateTramID(ctx)
	if err != nil {
		return t.fatal(err)
	}
	if id < 0 {
		return ErrNoTramSlots
	}
	route, err := t.fe.RouteForTram(ctx, id)
	if err != nil {
		return t.fatal(err)
	}
	first, err := t.fe.FirstStop(ctx, route)
	if err != nil {
		return t.fatal(err)
	}
	second, err := t.fe.SecondStop(ctx, route)
	if err != nil {
		return t.fatal(err)
	}

	t.ID, t.Route, t.Current, t.Previous = id, route, first, second
	t.log.SetPrefix("tram " + strconv.Itoa(id) + " ")
	t.log.Printf("[✅] on route %d at stop %d, session %s", route, first, t.Session)
	return nil
}

// NextStop asks where the tram goes after its current stop.
func (t *Tram) NextStop(ctx context.Context) (int, error) {
	q := message.NextStopQuery{RouteID: t.Route, CurrentStop: t.Current, PreviousStop: t.Previous}
	reply, err := t.call(ctx, q, t.fe.RetrieveNextStop)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(reply.Payload)
}

// UpdateLocation reports the tram's current stop.
func (t *Tram) UpdateLocation(ctx context.Context) error {
	u := message.LocationUpdate{RouteID: t.Route, TramID: t.ID, StopID: t.Current}
	_, err := t.call(ctx, u, t.fe.UpdateTramLocation)
	return err
}

// Advance moves the tram on to next.
func (t *Tram) Advance(next int) {
	t.Previous, t.Current = t.Current, next
}

// Run connects and then drives the tram until ctx ends or a call fails
// fatally.
func (t *Tram) Run(ctx context.Context) error {
	if err := t.Connect(ctx); err != nil {
		return err
	}
	for {
		next, err := t.NextStop(ctx)
		if err != nil {
			return t.stopped(ctx, err)
		}
		t.log.Printf("[INFO] next stop is %d", next)

		travel := t.travelTime()
		t.log.Printf("[INFO] ETA for stop %d is %d seconds", next, int(travel.Seconds()))
		if err := sleep(ctx, travel); err != nil {
			return t.stopped(ctx, err)
		}
		t.Advance(next)
		t.log.Printf("[INFO] Arrived at stop %d", next)

		if err := t.UpdateLocation(ctx); err != nil {
			return t.stopped(ctx, err)
		}
	}
}

func (t *Tram) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		t.log.Printf("[INFO] stopping at stop %d", t.Current)
		return nil
	}
	t.log.Printf("[ERROR] session ended: %v", err)
	return err
}

func (t *Tram) travelTime() time.Duration {
	span := t.opts.MaxTravel - t.opts.MinTravel
	if span <= 0 {
		return t.opts.MinTravel
	}
	return t.opts.MinTravel + time.Duration(t.rnd.Int63n(int64(span)+1))
}

type sendFunc func(ctx context.Context, raw []byte) ([]byte, error)

// call runs one logical operation. The transaction and request ids are
// fixed for the whole operation; every attempt leases a fresh call id.
func (t *Tram) call(ctx context.Context, r message.Call, send sendFunc) (message.Envelope, error) {
	t.transactionID++
	t.requestID++

	for attempt := 1; ; attempt++ {
		reply, err := t.attempt(ctx, r, send)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, ErrFrontEndUnreachable) {
			return message.Envelope{}, err
		}
		t.log.Printf("[WARN] %s attempt %d: %v", r.Procedure(), attempt, err)

		if t.opts.MaxAttempts > 0 && attempt >= t.opts.MaxAttempts {
			return message.Envelope{}, errors.Wrapf(ErrTooManyAttempts, "%s after %d attempts", r.Procedure(), attempt)
		}
		if err := sleep(ctx, t.opts.RetryDelay); err != nil {
			return message.Envelope{}, err
		}
	}
}

func (t *Tram) attempt(ctx context.Context, r message.Call, send sendFunc) (message.Envelope, error) {
	callID, err := t.fe.NextCallID(ctx)
	if err != nil {
		return message.Envelope{}, t.fatal(err)
	}
	req := message.NewRequest(r, message.IDs{TransactionID: t.transactionID, CallID: callID, RequestID: t.requestID})
	raw, err := message.Encode(req)
	if err != nil {
		return message.Envelope{}, err
	}

	out, err := send(ctx, raw)
	if errors.Is(err, transport.ErrNoReply) {
		return message.Envelope{}, err
	}
	if err != nil {
		return message.Envelope{}, t.fatal(err)
	}

	reply, err := message.Decode(out)
	if err != nil {
		return message.Envelope{}, err
	}
	if !message.Matches(req, reply) {
		return message.Envelope{}, errors.Wrapf(ErrCallMismatch, "sent %v, got %v", req, reply)
	}
	if reply.Status != message.Success {
		return message.Envelope{}, errors.Wrapf(ErrRejected, "%v", reply)
	}
	if r.Procedure() == message.RetrieveNextStop && reply.Payload == "-1" {
		return message.Envelope{}, errors.Wrapf(ErrRejected, "no next stop for %s", r.Payload())
	}
	return reply, nil
}

// fatal classifies err as the end of the session unless it is a deliberate
// no reply.
func (t *Tram) fatal(err error) error {
	if errors.Is(err, transport.ErrNoReply) || errors.Is(err, ErrFrontEndUnreachable) {
		return err
	}
	return errors.Mark(err, ErrFrontEndUnreachable)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
