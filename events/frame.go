package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingArgs is returned by DecodeArgs when the frame carries fewer
// arguments than requested.
var ErrMissingArgs = errors.New("missing event arguments")

// Frame is one WebSocket text message.
//
// Inbound frames look like {"event":"chat message","args":[...],"ack":3}.
// Outbound frames carry either an event with its args or a bare {"ack":3}.
type Frame struct {
	Event string            `json:"event,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
	Ack   *int64            `json:"ack,omitempty"`
}

// EncodeEvent marshals an outbound event frame from pre-encoded args.
func EncodeEvent(event string, args []json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Args: args})
}

// EncodeAck marshals an acknowledgment frame.
func EncodeAck(id int64) ([]byte, error) {
	return json.Marshal(Frame{Ack: &id})
}

// ParseFrame decodes an inbound frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, errors.New("invalid frame: missing event")
	}
	return f, nil
}

// DecodeArgs unmarshals the leading args of f into dst, in order.
func (f Frame) DecodeArgs(dst ...any) error {
	if len(f.Args) < len(dst) {
		return fmt.Errorf("%w: %q wants %d, got %d", ErrMissingArgs, f.Event, len(dst), len(f.Args))
	}
	for i, d := range dst {
		if err := json.Unmarshal(f.Args[i], d); err != nil {
			return fmt.Errorf("invalid %q argument %d: %w", f.Event, i, err)
		}
	}
	return nil
}
