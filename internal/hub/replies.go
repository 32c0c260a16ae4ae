package hub

import (
	"encoding/json"
	"errors"

	"github.com/Miravalier/NonsensePage-sub001/internal/wire"
)

var errInternal = errors.New("internal error")

// errorReply builds {"type":"error","reason":...}. When request is set it
// is echoed back as a string so the client can log what it sent.
func errorReply(reason string, request json.RawMessage) map[string]any {
	reply := map[string]any{
		wire.KeyType:   wire.TypeError,
		wire.KeyReason: reason,
	}
	if len(request) > 0 {
		reply[wire.KeyRequest] = string(request)
	}
	return reply
}

func authFailure(reason string) map[string]any {
	return map[string]any{
		wire.KeyType:   wire.TypeAuthFailure,
		wire.KeyReason: reason,
	}
}
