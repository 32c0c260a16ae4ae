package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestIDLen is the size of the binary frame header.
const RequestIDLen = 4

// Decode classifies a frame and decodes it.
func Decode(f Frame) (Message, error) {
	if f.Binary {
		return DecodeBinary(f.Data)
	}
	return DecodeText(f.Data)
}

// DecodeBinary decodes a request-id-tagged binary frame.
func DecodeBinary(data []byte) (Message, error) {
	if len(data) < RequestIDLen {
		return Message{}, fmt.Errorf("%w: %w (%d bytes)", ErrMalformed, ErrShortFrame, len(data))
	}

	payload := make([]byte, len(data)-RequestIDLen)
	copy(payload, data[RequestIDLen:])

	return Message{
		Kind:         KindBinary,
		Type:         TypeBinary,
		RequestID:    binary.BigEndian.Uint32(data[:RequestIDLen]),
		HasRequestID: true,
		Payload:      payload,
	}, nil
}

// EncodeBinary builds a binary frame body from a request id and payload.
func EncodeBinary(requestID uint32, payload []byte) []byte {
	out := make([]byte, RequestIDLen+len(payload))
	binary.BigEndian.PutUint32(out, requestID)
	copy(out[RequestIDLen:], payload)
	return out
}

// DecodeText decodes a JSON text frame.
func DecodeText(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, ErrNotObject)
	}

	var msgType string
	rawType, ok := fields[KeyType]
	if !ok {
		return Message{}, fmt.Errorf("%w: missing %q field", ErrMalformed, KeyType)
	}
	if err := json.Unmarshal(rawType, &msgType); err != nil {
		return Message{}, fmt.Errorf("%w: %q is not a string", ErrMalformed, KeyType)
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	msg := Message{
		Kind: kindOf(msgType),
		Type: msgType,
		Raw:  raw,
	}

	if id, ok := parseRequestID(fields[KeyRequestID]); ok {
		msg.RequestID = id
		msg.HasRequestID = true
	}

	if pool, ok := rawString(fields[KeyPool]); ok {
		msg.Pool = pool
		msg.HasPool = true
	}

	switch msg.Kind {
	case KindError, KindAuthFailure:
		msg.Reason, _ = rawString(fields[KeyReason])
	case KindDebug:
		if reason, ok := rawString(fields[KeyReason]); ok {
			msg.Reason = reason
		} else {
			msg.Reason, _ = rawString(fields[KeyData])
		}
	}

	return msg, nil
}

// parseRequestID accepts a JSON number within the uint32 range.
func parseRequestID(raw json.RawMessage) (uint32, bool) {
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(num.String(), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

// rawString returns a JSON string field unquoted, or the compact JSON text
// of any other non-null value.
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}

// Object encodes payload and checks that it is a JSON object.
// json.RawMessage and []byte payloads are used as already-encoded JSON.
func Object(payload any) ([]byte, error) {
	var (
		data     []byte
		borrowed bool // data aliases the caller's buffer
	)
	switch p := payload.(type) {
	case json.RawMessage:
		data, borrowed = p, true
	case []byte:
		data, borrowed = p, true
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrNotObject
	}
	if borrowed {
		return bytes.Clone(trimmed), nil
	}
	return trimmed, nil
}

// WithRequestID encodes payload with the "request id" field set to id.
func WithRequestID(payload any, id uint32) ([]byte, error) {
	return withField(payload, KeyRequestID, json.RawMessage(strconv.FormatUint(uint64(id), 10)))
}

// WithPool encodes payload with the "pool" field set, addressing it to
// the pool's subscribers.
func WithPool(payload any, pool string) ([]byte, error) {
	value, err := json.Marshal(pool)
	if err != nil {
		return nil, err
	}
	return withField(payload, KeyPool, value)
}

func withField(payload any, key string, value json.RawMessage) ([]byte, error) {
	data, err := Object(payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	fields[key] = value

	return json.Marshal(fields)
}

// Auth encodes the authentication handshake message.
func Auth(token string) []byte {
	data, _ := json.Marshal(struct {
		Type      string `json:"type"`
		AuthToken string `json:"auth_token"`
	}{TypeAuth, token})
	return data
}

// Subscribe encodes a pool subscribe control message.
func Subscribe(pool string) []byte {
	return poolControl(TypeSubscribe, pool)
}

// Unsubscribe encodes a pool unsubscribe control message.
func Unsubscribe(pool string) []byte {
	return poolControl(TypeUnsubscribe, pool)
}

func poolControl(msgType, pool string) []byte {
	data, _ := json.Marshal(struct {
		Type string `json:"type"`
		Pool string `json:"pool"`
	}{msgType, pool})
	return data
}

// NewMessage builds a decoded message from a JSON object payload.
func NewMessage(payload any) (Message, error) {
	data, err := Object(payload)
	if err != nil {
		return Message{}, err
	}
	return DecodeText(data)
}
