package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrNotRequest = errors.New("envelope is not a request")
var ErrUnknownProcedure = errors.New("unknown procedure")
var ErrBadPayload = errors.New("bad payload")

// Call is a decoded request body. Each procedure has exactly one variant.
type Call interface {
	Procedure() Procedure
	Payload() string
}

// NextStopQuery asks which stop follows CurrentStop given the tram came
// from PreviousStop. Payload: "routeId,currentStop,previousStop".
type NextStopQuery struct {
	RouteID      int
	CurrentStop  int
	PreviousStop int
}

func (NextStopQuery) Procedure() Procedure { return RetrieveNextStop }

func (q NextStopQuery) Payload() string {
	return fmt.Sprintf("%d,%d,%d", q.RouteID, q.CurrentStop, q.PreviousStop)
}

// LocationUpdate records that TramID is now at StopID.
// Payload: "routeId,tramId,stopId".
type LocationUpdate struct {
	RouteID int
	TramID  int
	StopID  int
}

func (LocationUpdate) Procedure() Procedure { return UpdateTramLocation }

func (u LocationUpdate) Payload() string {
	return fmt.Sprintf("%d,%d,%d", u.RouteID, u.TramID, u.StopID)
}

// IDs are the identifiers a client stamps on one attempt.
type IDs struct {
	TransactionID int64
	CallID        int64
	RequestID     int64
}

// NewRequest wraps r in a REQUEST envelope.
func NewRequest(r Call, ids IDs) Envelope {
	return Envelope{
		Kind:          Request,
		TransactionID: ids.TransactionID,
		CallID:        ids.CallID,
		RequestID:     ids.RequestID,
		Procedure:     r.Procedure(),
		Payload:       r.Payload(),
		Status:        Success,
	}
}

// ParseRequest decodes the body of a REQUEST envelope into its variant.
func ParseRequest(e Envelope) (Call, error) {
	if e.Kind != Request {
		return nil, errors.Wrapf(ErrNotRequest, "got %s", e.Kind)
	}

	switch e.Procedure {
	case RetrieveNextStop:
		f, err := fields(e.Payload, 3)
		if err != nil {
			return nil, err
		}
		return NextStopQuery{RouteID: f[0], CurrentStop: f[1], PreviousStop: f[2]}, nil
	case UpdateTramLocation:
		f, err := fields(e.Payload, 3)
		if err != nil {
			return nil, err
		}
		return LocationUpdate{RouteID: f[0], TramID: f[1], StopID: f[2]}, nil
	}
	return nil, errors.Wrapf(ErrUnknownProcedure, "%d", int16(e.Procedure))
}

func fields(payload string, n int) ([]int, error) {
	parts := strings.Split(payload, ",")
	if len(parts) != n {
		return nil, errors.Wrapf(ErrBadPayload, "expected %d fields in %q, got %d", n, payload, len(parts))
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(ErrBadPayload, "field %d of %q: %v", i, payload, err)
		}
		out[i] = v
	}
	return out, nil
}
