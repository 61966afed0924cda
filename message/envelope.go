package message

import "fmt"

type Kind int16

const (
	Request Kind = 0
	Reply   Kind = 1
)

func (k Kind) String() string {
	switch k {
	case Request:
		return "REQUEST"
	case Reply:
		return "REPLY"
	}
	return fmt.Sprintf("Kind(%d)", int16(k))
}

// Procedure selects the remote operation a call envelope targets.
type Procedure int16

const (
	RetrieveNextStop   Procedure = 1
	UpdateTramLocation Procedure = 2
)

func (p Procedure) String() string {
	switch p {
	case RetrieveNextStop:
		return "retrieveNextStop"
	case UpdateTramLocation:
		return "updateTramLocation"
	}
	return fmt.Sprintf("Procedure(%d)", int16(p))
}

type Status int16

const (
	Success Status = 0
	Failure Status = -1
)

// Envelope is one call or one reply, before encoding or after decoding.
type Envelope struct {
	Kind          Kind
	TransactionID int64 // client assigned, one per logical operation
	CallID        int64 // leased from the server, one per network attempt
	RequestID     int64 // client assigned, strictly increasing per session
	Procedure     Procedure
	Payload       string // comma separated fields
	Status        Status
}

// ReplyTo builds a reply carrying the identifiers of req.
func ReplyTo(req Envelope, status Status, payload string) Envelope {
	return Envelope{
		Kind:          Reply,
		TransactionID: req.TransactionID,
		CallID:        req.CallID,
		RequestID:     req.RequestID,
		Procedure:     req.Procedure,
		Payload:       payload,
		Status:        status,
	}
}

// Matches reports whether reply answers req: it must be a REPLY and carry
// the same transaction, call and request ids and the same procedure.
func Matches(req, reply Envelope) bool {
	return reply.Kind == Reply &&
		reply.TransactionID == req.TransactionID &&
		reply.CallID == req.CallID &&
		reply.RequestID == req.RequestID &&
		reply.Procedure == req.Procedure
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s tx:%d call:%d req:%d proc:%s status:%d payload:%q",
		e.Kind, e.TransactionID, e.CallID, e.RequestID, e.Procedure, e.Status, e.Payload)
}

// Transport procedure names for calls that carry no envelope.
const (
	AliveCall      = "alive"
	NextCallIDCall = "nextCallId"
)
