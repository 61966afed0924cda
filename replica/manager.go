package replica

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"tramtrack/engine"
	"tramtrack/message"
	"tramtrack/tracking"
	"tramtrack/transport"
)

// Manager is one replica of the tracking service. Its location table is
// its own and is never synchronised with other replicas.
type Manager struct {
	Name    string
	ID      string
	Started time.Time

	routes *tracking.Routes
	db     *engine.Engine
	calls  tracking.CallSequence
}

func NewManager(name string, routes *tracking.Routes, db *engine.Engine) *Manager {
	return &Manager{
		Name:    name,
		ID:      uuid.New().String(),
		Started: time.Now(),
		routes:  routes,
		db:      db,
	}
}

// Handle dispatches a transport call to the matching operation.
func (m *Manager) Handle(_ context.Context, procedure string, payload []byte) ([]byte, error) {
	switch procedure {
	case message.RetrieveNextStop.String():
		return m.RetrieveNextStop(payload)
	case message.UpdateTramLocation.String():
		return m.UpdateTramLocation(payload)
	case message.AliveCall:
		return nil, nil
	case message.NextCallIDCall:
		return []byte(strconv.FormatInt(m.NextCallID(), 10)), nil
	}
	return nil, errors.Newf("%s: unknown procedure %q", m.Name, procedure)
}

// RetrieveNextStop answers a next stop query. Anything that is not a
// well-formed next stop request is dropped with transport.ErrNoReply.
func (m *Manager) RetrieveNextStop(raw []byte) ([]byte, error) {
	req, q, ok := m.parse(raw, message.RetrieveNextStop)
	if !ok {
		return nil, transport.ErrNoReply
	}
	query := q.(message.NextStopQuery)

	status := message.Success
	next, err := m.routes.NextStop(query.RouteID, query.CurrentStop, query.PreviousStop)
	if err != nil {
		log.Printf("[WARN] %s: %v", m.Name, err)
		status = message.Failure
		next = -1
	}
	return m.reply(message.ReplyTo(req, status, strconv.Itoa(next)))
}

// UpdateTramLocation records the stop a tram reported. The stop is not
// checked against the route.
func (m *Manager) UpdateTramLocation(raw []byte) ([]byte, error) {
	req, u, ok := m.parse(raw, message.UpdateTramLocation)
	if !ok {
		return nil, transport.ErrNoReply
	}
	update := u.(message.LocationUpdate)

	status := message.Success
	if err := m.db.SetLocation(update.TramID, update.StopID); err != nil {
		log.Printf("[ERROR] %s: %v", m.Name, err)
		status = message.Failure
	}
	return m.reply(message.ReplyTo(req, status, ""))
}

// Location returns the last stop tramID reported to this replica.
func (m *Manager) Location(tramID int) (int, bool, error) {
	return m.db.Location(tramID)
}

// Locations returns this replica's whole location table.
func (m *Manager) Locations() (map[int]int, error) {
	return m.db.Locations()
}

func (m *Manager) NextCallID() int64 {
	return m.calls.Next()
}

func (m *Manager) parse(raw []byte, want message.Procedure) (message.Envelope, message.Call, bool) {
	env, err := message.Decode(raw)
	if err != nil {
		log.Printf("[WARN] %s: dropping %s call: %v", m.Name, want, err)
		return env, nil, false
	}
	log.Printf("[INFO] %s: %s", m.Name, env)

	req, err := message.ParseRequest(env)
	if err != nil {
		log.Printf("[WARN] %s: dropping %s call: %v", m.Name, want, err)
		return env, nil, false
	}
	if req.Procedure() != want {
		log.Printf("[WARN] %s: dropping %s call carrying procedure %s", m.Name, want, req.Procedure())
		return env, nil, false
	}
	return env, req, true
}

func (m *Manager) reply(e message.Envelope) ([]byte, error) {
	out, err := message.Encode(e)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: encode reply", m.Name)
	}
	return out, nil
}
