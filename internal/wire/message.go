// Package wire implements the live protocol frame codec.
//
// Text frames carry one JSON object with a "type" field and optional
// "request id" and "pool" fields. Binary frames carry a 4-byte big-endian
// request id followed by an opaque payload.
package wire

import (
	"encoding/json"
	"errors"
)

// Errors
var (
	ErrMalformed  = errors.New("malformed frame")
	ErrShortFrame = errors.New("binary frame shorter than request id header")
	ErrNotObject  = errors.New("payload is not a json object")
)

// Message types recognized by the transport layer.
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth success"
	TypeAuthFailure = "auth failure"
	TypeError       = "error"
	TypeDebug       = "debug"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeBinary      = "binary"
)

// Wire field names.
const (
	KeyType      = "type"
	KeyRequestID = "request id"
	KeyPool      = "pool"
	KeyReason    = "reason"
	KeyData      = "data"
	KeyRequest   = "request"
	KeyAuthToken = "auth_token"
)

// Kind discriminates decoded messages.
type Kind int

const (
	KindApplication Kind = iota
	KindBinary
	KindAuthSuccess
	KindAuthFailure
	KindError
	KindDebug
)

func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindBinary:
		return "binary"
	case KindAuthSuccess:
		return "auth_success"
	case KindAuthFailure:
		return "auth_failure"
	case KindError:
		return "error"
	case KindDebug:
		return "debug"
	}
	return "unknown"
}

// kindOf maps a "type" value to its Kind.
func kindOf(msgType string) Kind {
	switch msgType {
	case TypeAuthSuccess:
		return KindAuthSuccess
	case TypeAuthFailure:
		return KindAuthFailure
	case TypeError:
		return KindError
	case TypeDebug:
		return KindDebug
	}
	return KindApplication
}

// Frame is one raw socket message.
type Frame struct {
	Binary bool
	Data   []byte
}

// TextFrame wraps encoded JSON as a text frame.
func TextFrame(data []byte) Frame {
	return Frame{Data: data}
}

// BinaryFrame wraps bytes as a binary frame.
func BinaryFrame(data []byte) Frame {
	return Frame{Binary: true, Data: data}
}

// Message is the canonical decoded form of an inbound frame.
type Message struct {
	Kind Kind
	Type string

	RequestID    uint32
	HasRequestID bool

	Pool    string
	HasPool bool

	// Reason is set for error, auth failure and debug messages.
	Reason string

	// Payload holds the bytes after the request id of a binary frame.
	Payload []byte

	// Raw is the complete JSON object of a text frame.
	Raw json.RawMessage
}

// Decode unmarshals the full JSON object into v.
func (m Message) Decode(v any) error {
	if m.Kind == KindBinary {
		return errors.New("binary message has no json body")
	}
	return json.Unmarshal(m.Raw, v)
}

// Field returns one top-level field of the JSON object.
func (m Message) Field(key string) (json.RawMessage, bool) {
	if len(m.Raw) == 0 {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[key]
	return v, ok
}
