package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestBinaryRoundTrip(t *testing.T) {
	frame := EncodeBinary(42, []byte{1, 2, 3})

	msg, err := Decode(BinaryFrame(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if msg.Kind != KindBinary {
		t.Errorf("Kind = %v, want binary", msg.Kind)
	}
	if msg.Type != "binary" {
		t.Errorf("Type = %q, want binary", msg.Type)
	}
	if !msg.HasRequestID || msg.RequestID != 42 {
		t.Errorf("RequestID = %d (has=%v), want 42", msg.RequestID, msg.HasRequestID)
	}
	if !bytes.Equal(msg.Payload, []byte{1, 2, 3}) {
		t.Errorf("Payload = %v, want [1 2 3]", msg.Payload)
	}
}

func TestEncodeBinary_BigEndian(t *testing.T) {
	frame := EncodeBinary(0x01020304, []byte{0xff})
	want := []byte{0x01, 0x02, 0x03, 0x04, 0xff}
	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeBinary = %v, want %v", frame, want)
	}
}

func TestDecodeBinary_Short(t *testing.T) {
	_, err := DecodeBinary([]byte{0, 1})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
}

func TestDecodeBinary_EmptyPayload(t *testing.T) {
	msg, err := DecodeBinary([]byte{0, 0, 0, 7})
	if err != nil {
		t.Fatalf("DecodeBinary failed: %v", err)
	}
	if msg.RequestID != 7 {
		t.Errorf("RequestID = %d, want 7", msg.RequestID)
	}
	if len(msg.Payload) != 0 {
		t.Errorf("Payload = %v, want empty", msg.Payload)
	}
}

func TestDecodeText_Application(t *testing.T) {
	data := `{"type":"update","pool":"characters","request id":4294967295,"name":"Ayla"}`

	msg, err := DecodeText([]byte(data))
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}

	if msg.Kind != KindApplication {
		t.Errorf("Kind = %v, want application", msg.Kind)
	}
	if msg.Type != "update" {
		t.Errorf("Type = %q, want update", msg.Type)
	}
	if !msg.HasPool || msg.Pool != "characters" {
		t.Errorf("Pool = %q (has=%v), want characters", msg.Pool, msg.HasPool)
	}
	if !msg.HasRequestID || msg.RequestID != 4294967295 {
		t.Errorf("RequestID = %d (has=%v), want 4294967295", msg.RequestID, msg.HasRequestID)
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := msg.Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body.Name != "Ayla" {
		t.Errorf("Name = %q, want Ayla", body.Name)
	}

	raw, ok := msg.Field("name")
	if !ok || string(raw) != `"Ayla"` {
		t.Errorf("Field(name) = %s, %v", raw, ok)
	}
}

func TestDecodeText_ControlKinds(t *testing.T) {
	tests := []struct {
		data   string
		kind   Kind
		reason string
	}{
		{`{"type":"auth success","id":"u1","admin":true}`, KindAuthSuccess, ""},
		{`{"type":"auth failure","reason":"expired"}`, KindAuthFailure, "expired"},
		{`{"type":"error","reason":"bad request","request":{"type":"x"}}`, KindError, "bad request"},
		{`{"type":"debug","reason":"hello"}`, KindDebug, "hello"},
		{`{"type":"debug","data":"fallback"}`, KindDebug, "fallback"},
	}

	for _, tt := range tests {
		msg, err := DecodeText([]byte(tt.data))
		if err != nil {
			t.Fatalf("DecodeText(%s) failed: %v", tt.data, err)
		}
		if msg.Kind != tt.kind {
			t.Errorf("DecodeText(%s).Kind = %v, want %v", tt.data, msg.Kind, tt.kind)
		}
		if msg.Reason != tt.reason {
			t.Errorf("DecodeText(%s).Reason = %q, want %q", tt.data, msg.Reason, tt.reason)
		}
	}
}

func TestDecodeText_Malformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"type":`,
		`[1,2,3]`,
		`null`,
		`{"pool":"x"}`,
		`{"type":5}`,
	}

	for _, in := range inputs {
		if _, err := DecodeText([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("DecodeText(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestDecodeText_InvalidRequestIDIgnored(t *testing.T) {
	for _, in := range []string{
		`{"type":"x","request id":-1}`,
		`{"type":"x","request id":4294967296}`,
		`{"type":"x","request id":"12"}`,
		`{"type":"x","request id":1.5}`,
	} {
		msg, err := DecodeText([]byte(in))
		if err != nil {
			t.Fatalf("DecodeText(%s) failed: %v", in, err)
		}
		if msg.HasRequestID {
			t.Errorf("DecodeText(%s).HasRequestID = true, want false", in)
		}
	}
}

func TestDecodeText_NonStringPool(t *testing.T) {
	msg, err := DecodeText([]byte(`{"type":"x","pool":17}`))
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	if !msg.HasPool || msg.Pool != "17" {
		t.Errorf("Pool = %q (has=%v), want 17", msg.Pool, msg.HasPool)
	}
}

func TestWithRequestID(t *testing.T) {
	data, err := WithRequestID(map[string]any{"type": "roll", "formula": "1d20"}, 99)
	if err != nil {
		t.Fatalf("WithRequestID failed: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if parsed["request id"] != float64(99) {
		t.Errorf("request id = %v, want 99", parsed["request id"])
	}
	if parsed["formula"] != "1d20" {
		t.Errorf("formula = %v, want 1d20", parsed["formula"])
	}
}

func TestWithPool(t *testing.T) {
	data, err := WithPool(json.RawMessage(`{"type":"edit","pool":"old"}`), "messages")
	if err != nil {
		t.Fatalf("WithPool failed: %v", err)
	}

	msg, err := DecodeText(data)
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	if !msg.HasPool || msg.Pool != "messages" {
		t.Errorf("pool = %q (%v), want messages", msg.Pool, msg.HasPool)
	}
	if msg.Type != "edit" {
		t.Errorf("type = %q, want edit", msg.Type)
	}
}

func TestWithRequestID_RejectsNonObject(t *testing.T) {
	for _, payload := range []any{[]int{1}, "text", 3, json.RawMessage(`[1]`)} {
		if _, err := WithRequestID(payload, 1); !errors.Is(err, ErrNotObject) {
			t.Errorf("WithRequestID(%v) error = %v, want ErrNotObject", payload, err)
		}
	}
}

func TestControlMessages(t *testing.T) {
	if got := string(Auth("tok")); got != `{"type":"auth","auth_token":"tok"}` {
		t.Errorf("Auth = %s", got)
	}
	if got := string(Subscribe("maps")); got != `{"type":"subscribe","pool":"maps"}` {
		t.Errorf("Subscribe = %s", got)
	}
	if got := string(Unsubscribe("maps")); got != `{"type":"unsubscribe","pool":"maps"}` {
		t.Errorf("Unsubscribe = %s", got)
	}
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(map[string]string{"type": "local", "pool": "chat"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Type != "local" || msg.Pool != "chat" {
		t.Errorf("NewMessage = %+v", msg)
	}
}

func TestObject_CopiesCallerBuffer(t *testing.T) {
	for _, payload := range []any{
		[]byte(` {"type":"first"} `),
		json.RawMessage(`{"type":"first"}`),
	} {
		data, err := Object(payload)
		if err != nil {
			t.Fatalf("Object(%T) failed: %v", payload, err)
		}
		switch p := payload.(type) {
		case []byte:
			copy(p, ` {"type":"XXXXX"} `)
		case json.RawMessage:
			copy(p, `{"type":"XXXXX"}`)
		}
		if string(data) != `{"type":"first"}` {
			t.Errorf("Object(%T) = %s after caller reused its buffer", payload, data)
		}
	}
}

func TestDecodeText_BinaryTypeIsApplication(t *testing.T) {
	msg, err := DecodeText([]byte(`{"type":"binary","size":3}`))
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}
	if msg.Kind != KindApplication {
		t.Errorf("Kind = %v, want application", msg.Kind)
	}

	var body struct {
		Size int `json:"size"`
	}
	if err := msg.Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body.Size != 3 {
		t.Errorf("size = %d, want 3", body.Size)
	}
}
