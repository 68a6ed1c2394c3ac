// Package fanout carries room events between hub nodes. Each node delivers to
// its own sockets and publishes the same frame for the others; a node ignores
// what it published itself.
package fanout

import "context"

// Message is one frame on its way to the sockets of a room on other nodes.
type Message struct {
	NodeID string `json:"node"`
	RoomID string `json:"room"`
	// Target limits delivery to one socket; empty means the whole room.
	Target string `json:"target,omitempty"`
	// Except is skipped for room-wide delivery.
	Except   string `json:"except,omitempty"`
	Frame    []byte `json:"frame"`
	Volatile bool   `json:"volatile,omitempty"`
}

// Bus publishes messages to, and receives them from, the other nodes.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe calls handle for every message from another node until ctx
	// is done.
	Subscribe(ctx context.Context, handle func(Message)) error
}

// Local is the bus of a single-node deployment: nothing to tell anyone.
type Local struct{}

func (Local) Publish(context.Context, Message) error { return nil }

func (Local) Subscribe(ctx context.Context, _ func(Message)) error {
	<-ctx.Done()
	return nil
}
