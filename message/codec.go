package message

import (
	"encoding/binary"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// HeaderSize and TrailerSize are the fixed-width parts of an encoded
// envelope: kind, three ids and the procedure in front, status at the end.
const (
	HeaderSize  = 2 + 8 + 8 + 8 + 2
	TrailerSize = 2
	FixedSize   = HeaderSize + TrailerSize
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// EncodedLen returns the number of bytes Encode produces for e.
func EncodedLen(e Envelope) int {
	return FixedSize + 2*len(utf16.Encode([]rune(e.Payload)))
}

// Encode lays e out big-endian as
// [kind][transactionId][callId][requestId][procedure][payload...][status],
// the payload written as one 2-byte code unit per character.
func Encode(e Envelope) ([]byte, error) {
	if e.Kind != Request && e.Kind != Reply {
		return nil, errors.Wrapf(ErrMalformedEnvelope, "unknown kind %d", int16(e.Kind))
	}
	if !utf8.ValidString(e.Payload) {
		return nil, errors.Wrapf(ErrMalformedEnvelope, "payload %q is not valid UTF-8", e.Payload)
	}
	units := utf16.Encode([]rune(e.Payload))
	if len(units) != len([]rune(e.Payload)) {
		return nil, errors.Wrapf(ErrMalformedEnvelope, "payload %q has characters wider than one code unit", e.Payload)
	}

	buf := make([]byte, FixedSize+2*len(units))
	binary.BigEndian.PutUint16(buf[0:], uint16(e.Kind))
	binary.BigEndian.PutUint64(buf[2:], uint64(e.TransactionID))
	binary.BigEndian.PutUint64(buf[10:], uint64(e.CallID))
	binary.BigEndian.PutUint64(buf[18:], uint64(e.RequestID))
	binary.BigEndian.PutUint16(buf[26:], uint16(e.Procedure))

	idx := HeaderSize
	for _, u := range units {
		binary.BigEndian.PutUint16(buf[idx:], u)
		idx += 2
	}
	binary.BigEndian.PutUint16(buf[idx:], uint16(e.Status))
	return buf, nil
}

// Decode is the inverse of Encode. The payload length is whatever is left
// between the header and the status trailer.
func Decode(data []byte) (Envelope, error) {
	if len(data) < FixedSize {
		return Envelope{}, errors.Wrapf(ErrMalformedEnvelope, "%d bytes is shorter than the %d byte fixed layout", len(data), FixedSize)
	}
	if (len(data)-FixedSize)%2 != 0 {
		return Envelope{}, errors.Wrapf(ErrMalformedEnvelope, "payload of %d bytes is not a whole number of code units", len(data)-FixedSize)
	}

	var e Envelope
	e.Kind = Kind(binary.BigEndian.Uint16(data[0:]))
	if e.Kind != Request && e.Kind != Reply {
		return Envelope{}, errors.Wrapf(ErrMalformedEnvelope, "unknown kind %d", int16(e.Kind))
	}
	e.TransactionID = int64(binary.BigEndian.Uint64(data[2:]))
	e.CallID = int64(binary.BigEndian.Uint64(data[10:]))
	e.RequestID = int64(binary.BigEndian.Uint64(data[18:]))
	e.Procedure = Procedure(binary.BigEndian.Uint16(data[26:]))

	end := len(data) - TrailerSize
	units := make([]uint16, 0, (end-HeaderSize)/2)
	for idx := HeaderSize; idx < end; idx += 2 {
		u := binary.BigEndian.Uint16(data[idx:])
		if utf16.IsSurrogate(rune(u)) {
			return Envelope{}, errors.Wrapf(ErrMalformedEnvelope, "surrogate code unit %#04x at byte %d", u, idx)
		}
		units = append(units, u)
	}
	e.Payload = string(utf16.Decode(units))
	e.Status = Status(int16(binary.BigEndian.Uint16(data[end:])))
	return e, nil
}
