package frontend

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"

	"tramtrack/config"
	"tramtrack/message"
	"tramtrack/transport"
)

// Invoker is a resolved front end service.
type Invoker interface {
	Invoke(ctx context.Context, procedure string, payload []byte) ([]byte, error)
}

// Client is the stub a tram uses to reach a remote front end.
type Client struct {
	h Invoker
}

func NewClient(h Invoker) *Client {
	return &Client{h: h}
}

// Dial resolves the front end service at node.
func Dial(ctx context.Context, node config.Node) (*Client, *transport.Handle, error) {
	h, err := transport.Resolve(ctx, node.Host, node.Port, config.FrontEndService)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(h), h, nil
}

func (c *Client) RetrieveNextStop(ctx context.Context, raw []byte) ([]byte, error) {
	return c.h.Invoke(ctx, message.RetrieveNextStop.String(), raw)
}

func (c *Client) UpdateTramLocation(ctx context.Context, raw []byte) ([]byte, error) {
	return c.h.Invoke(ctx, message.UpdateTramLocation.String(), raw)
}

func (c *Client) AllocateTramID(ctx context.Context) (int, error) {
	return c.intCall(ctx, AllocateTramIDCall, nil)
}

func (c *Client) RouteForTram(ctx context.Context, tramID int) (int, error) {
	return c.intCall(ctx, RouteForTramCall, []byte(strconv.Itoa(tramID)))
}

func (c *Client) FirstStop(ctx context.Context, routeID int) (int, error) {
	return c.intCall(ctx, FirstStopCall, []byte(strconv.Itoa(routeID)))
}

func (c *Client) SecondStop(ctx context.Context, routeID int) (int, error) {
	return c.intCall(ctx, SecondStopCall, []byte(strconv.Itoa(routeID)))
}

func (c *Client) NextCallID(ctx context.Context) (int64, error) {
	out, err := c.h.Invoke(ctx, message.NextCallIDCall, nil)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(string(out), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s returned %q", message.NextCallIDCall, out)
	}
	return id, nil
}

func (c *Client) intCall(ctx context.Context, procedure string, payload []byte) (int, error) {
	out, err := c.h.Invoke(ctx, procedure, payload)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(out))
	if err != nil {
		return 0, errors.Wrapf(err, "%s returned %q", procedure, out)
	}
	return v, nil
}
