package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errMissingEvent = errors.New("decoding frame: missing event")

// Envelope is one event on the wire: a JSON text frame carrying the event
// name and its positional arguments. Binary arguments travel base64 encoded.
type Envelope struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

type outgoing struct {
	Event string `json:"event"`
	Args  []any  `json:"args,omitempty"`
}

// Encode builds the frame for event.
func Encode(event string, args ...any) ([]byte, error) {
	frame, err := json.Marshal(outgoing{Event: event, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", event, err)
	}
	return frame, nil
}

// Decode parses an incoming frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errMissingEvent
	}
	return env, nil
}

// Arg decodes argument i into v. Missing arguments leave v untouched and
// report false.
func (e Envelope) Arg(i int, v any) bool {
	if i >= len(e.Args) || len(e.Args[i]) == 0 || string(e.Args[i]) == "null" {
		return false
	}
	return json.Unmarshal(e.Args[i], v) == nil
}
