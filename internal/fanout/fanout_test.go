package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"

	"github.com/Vasu1712/scenyx-hub/internal/logging"
)

func TestValkeyPublish(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	bus := NewValkey(client, "wb:", "node-a", logging.Discard())

	var published []string
	client.EXPECT().Do(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, cmd valkey.Completed) valkey.ValkeyResult {
		published = cmd.Commands()
		return mock.Result(mock.ValkeyInt64(1))
	})

	require.NoError(t, bus.Publish(ctx, Message{RoomID: "r1", Except: "s1", Frame: []byte(`{"event":"x"}`)}))
	require.Len(t, published, 3)
	assert.Equal(t, "PUBLISH", published[0])
	assert.Equal(t, "wb:room:r1", published[1])

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(published[2]), &msg))
	assert.Equal(t, "node-a", msg.NodeID)
	assert.Equal(t, "s1", msg.Except)
	assert.Equal(t, `{"event":"x"}`, string(msg.Frame))
}

func TestValkeyPublishError(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	bus := NewValkey(client, "wb:", "node-a", logging.Discard())

	client.EXPECT().Do(ctx, gomock.Any()).Return(mock.ErrorResult(errors.New("connection refused")))
	err := bus.Publish(ctx, Message{RoomID: "r1"})
	assert.ErrorContains(t, err, "room r1")
}

func TestValkeySubscribeSkipsOwnMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	bus := NewValkey(client, "wb:", "node-a", logging.Discard())

	frame := func(node, room string) string {
		raw, _ := json.Marshal(Message{NodeID: node, RoomID: room, Frame: []byte("f")})
		return string(raw)
	}

	client.EXPECT().
		Receive(gomock.Any(), mock.Match("PSUBSCRIBE", "wb:room:*"), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ valkey.Completed, fn func(valkey.PubSubMessage)) error {
			fn(valkey.PubSubMessage{Channel: "wb:room:r1", Message: frame("node-a", "r1")})
			fn(valkey.PubSubMessage{Channel: "wb:room:r1", Message: "not json"})
			fn(valkey.PubSubMessage{Channel: "wb:room:r2", Message: frame("node-b", "r2")})
			cancel()
			return ctx.Err()
		})

	var got []Message
	require.NoError(t, bus.Subscribe(ctx, func(m Message) { got = append(got, m) }))
	require.Len(t, got, 1)
	assert.Equal(t, "node-b", got[0].NodeID)
	assert.Equal(t, "r2", got[0].RoomID)
}

func TestLocalBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var bus Bus = Local{}
	assert.NoError(t, bus.Publish(ctx, Message{RoomID: "r"}))
	assert.NoError(t, bus.Subscribe(ctx, func(Message) { t.Fatal("local bus delivered a message") }))
}
