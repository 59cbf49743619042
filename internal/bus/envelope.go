package bus

import (
	"encoding/json"
	"fmt"
)

// Kind says who an envelope is for.
type Kind string

const (
	// KindGroup envelopes are written to every connection in Group on every process.
	KindGroup Kind = "group"
	// KindBroadcast envelopes are written to every connection on every process.
	KindBroadcast Kind = "broadcast"
	// KindGlobal envelopes are server-side events for the processes themselves (startup, emission).
	KindGlobal Kind = "global"
)

// Envelope is the unit carried between processes.
type Envelope struct {
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	Kind    Kind            `json:"kind"`
	Group   string          `json:"group,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Attachment references a bus_attachments row holding the full envelope when it was too
	// large for a notification. Only set on the wire, never on a delivered envelope.
	Attachment int64 `json:"attachment,omitempty"`
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("bus: encode payload: %w", err)
		}
		return b, nil
	}
}

func decodeEnvelope(msg []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, fmt.Errorf("bus: decode envelope: %w", err)
	}
	return env, nil
}
