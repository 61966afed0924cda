package frontend

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"

	"tramtrack/message"
	"tramtrack/utils"
)

// Procedures served under config.FrontEndService besides the two
// tracking calls.
const (
	AllocateTramIDCall = "allocateTramId"
	RouteForTramCall   = "routeForTram"
	FirstStopCall      = "firstStop"
	SecondStopCall     = "secondStop"
)

// Handle serves the front end on the transport. Integer arguments and
// results travel as decimal strings.
func (f *FrontEnd) Handle(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
	switch procedure {
	case message.RetrieveNextStop.String():
		return f.RetrieveNextStop(ctx, payload)
	case message.UpdateTramLocation.String():
		return f.UpdateTramLocation(ctx, payload)
	case AllocateTramIDCall:
		return itoa(f.AllocateTramID(ctx))
	case RouteForTramCall:
		id, err := utils.ParseID(string(payload))
		if err != nil {
			return nil, err
		}
		return itoa(f.RouteForTram(ctx, id))
	case FirstStopCall, SecondStopCall:
		route, err := utils.ParseID(string(payload))
		if err != nil {
			return nil, err
		}
		if procedure == FirstStopCall {
			return itoa(f.FirstStop(ctx, route))
		}
		return itoa(f.SecondStop(ctx, route))
	case message.NextCallIDCall:
		id, _ := f.NextCallID(ctx)
		return []byte(strconv.FormatInt(id, 10)), nil
	}
	return nil, errors.Newf("frontend: unknown procedure %q", procedure)
}

func itoa(v int, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return []byte(strconv.Itoa(v)), nil
}
