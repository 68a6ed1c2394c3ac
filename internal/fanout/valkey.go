package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/scenyx-hub/internal/logging"
)

const resubscribeDelay = time.Second

// Valkey fans out over pub/sub, one channel per room under prefix.
type Valkey struct {
	client valkey.Client
	prefix string
	nodeID string
	log    *logging.Logger
}

func NewValkey(client valkey.Client, prefix, nodeID string, log *logging.Logger) *Valkey {
	return &Valkey{client: client, prefix: prefix, nodeID: nodeID, log: log.With("Fanout")}
}

func (v *Valkey) channel(roomID string) string { return v.prefix + "room:" + roomID }

func (v *Valkey) Publish(ctx context.Context, msg Message) error {
	msg.NodeID = v.nodeID
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding fanout message: %w", err)
	}
	cmd := v.client.B().Publish().Channel(v.channel(msg.RoomID)).Message(valkey.BinaryString(raw)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("publishing to room %s: %w", msg.RoomID, err)
	}
	return nil
}

// Subscribe listens on every room channel, resubscribing after connection
// loss until ctx is done.
func (v *Valkey) Subscribe(ctx context.Context, handle func(Message)) error {
	cmd := v.client.B().Psubscribe().Pattern(v.prefix + "room:*").Build()
	for {
		err := v.client.Receive(ctx, cmd, func(m valkey.PubSubMessage) {
			v.dispatch(m.Message, handle)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			v.log.Warnf("subscription lost: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

func (v *Valkey) dispatch(payload string, handle func(Message)) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		v.log.Warnf("dropping unreadable message: %v", err)
		return
	}
	if msg.NodeID == v.nodeID {
		return
	}
	handle(msg)
}
