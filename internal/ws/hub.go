package ws

import (
	"context"
	"sync"

	"github.com/Vasu1712/scenyx-hub/internal/fanout"
	"github.com/Vasu1712/scenyx-hub/internal/logging"
)

// Hub owns the sockets connected to this node and the local view of which
// room each one is in. Frames for sockets on other nodes go out on the bus.
type Hub struct {
	rooms   map[string]map[*Client]bool // roomID -> clients
	sockets map[string]*Client          // socketID -> client

	Register   chan *Client
	Unregister chan *Client
	deliver    chan delivery
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	bus    fanout.Bus
	nodeID string
	log    *logging.Logger
}

type delivery struct {
	roomID   string
	target   string
	except   string
	frame    []byte
	volatile bool
	// kick disconnects target with this close code after earlier frames.
	kick int
}

func NewHub(bus fanout.Bus, nodeID string, log *logging.Logger) *Hub {
	if bus == nil {
		bus = fanout.Local{}
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		sockets:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		quit:       make(chan struct{}),
		bus:        bus,
		nodeID:     nodeID,
		log:        log.With("Hub"),
	}
}

// Run serves registrations and deliveries until Stop.
func (h *Hub) Run() {
	h.log.Infof("hub started on node %s", h.nodeID)
	defer h.log.Infof("hub stopped")

	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.sockets[client.ID] = client
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case d := <-h.deliver:
			h.mu.Lock()
			h.fanOut(d)
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for _, client := range h.sockets {
				h.drop(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop disconnects every local socket and ends Run. It is safe to call twice.
func (h *Hub) Stop() { h.stopOnce.Do(func() { close(h.quit) }) }

func (h *Hub) add(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.quit:
	}
}

// Listen feeds frames published by other nodes into Run until ctx is done.
func (h *Hub) Listen(ctx context.Context) error {
	return h.bus.Subscribe(ctx, func(msg fanout.Message) {
		d := delivery{roomID: msg.RoomID, target: msg.Target, except: msg.Except, frame: msg.Frame, volatile: msg.Volatile}
		select {
		case h.deliver <- d:
		case <-h.quit:
		case <-ctx.Done():
		}
	})
}

// drop forgets client and closes its send channel. Callers hold h.mu.
func (h *Hub) drop(client *Client) {
	if h.sockets[client.ID] != client {
		return
	}
	delete(h.sockets, client.ID)
	client.dropped = true
	for roomID, members := range h.rooms {
		if members[client] {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	close(client.send)
}

// fanOut hands d to local sockets. A reliable frame that does not fit in a
// socket's buffer disconnects that socket; it resynchronises on rejoin.
// Volatile frames are dropped instead. Callers hold h.mu.
func (h *Hub) fanOut(d delivery) {
	push := func(client *Client) {
		select {
		case client.send <- d.frame:
		default:
			if d.volatile {
				return
			}
			h.log.Warnf("socket %s too slow, disconnecting", client.ID)
			h.drop(client)
		}
	}

	if d.target != "" {
		client, ok := h.sockets[d.target]
		switch {
		case !ok:
		case d.kick != 0:
			client.closeCode = d.kick
			h.drop(client)
		default:
			push(client)
		}
		return
	}
	for client := range h.rooms[d.roomID] {
		if client.ID != d.except {
			push(client)
		}
	}
}

// JoinRoom adds client to roomID's local member set. It returns once the
// client will see every later delivery to the room.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.dropped {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
}

func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Local reports how many sockets and rooms this node holds.
func (h *Hub) Local() (sockets, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sockets), len(h.rooms)
}

func (h *Hub) isLocal(socketID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sockets[socketID]
	return ok
}

// ToSocket sends event to one socket, wherever it is connected.
func (h *Hub) ToSocket(ctx context.Context, roomID, socketID, event string, args ...any) {
	frame, err := Encode(event, args...)
	if err != nil {
		h.log.Errorf("%v", err)
		return
	}
	d := delivery{roomID: roomID, target: socketID, frame: frame}
	h.enqueue(ctx, d)
	if !h.isLocal(socketID) {
		h.publish(ctx, d)
	}
}

// Kick closes a local socket with code once the frames queued before it are
// written.
func (h *Hub) Kick(ctx context.Context, socketID string, code int) {
	h.enqueue(ctx, delivery{target: socketID, kick: code})
}

// ToRoom sends event to every member of roomID except the socket except.
func (h *Hub) ToRoom(ctx context.Context, roomID, except, event string, args ...any) {
	frame, err := Encode(event, args...)
	if err != nil {
		h.log.Errorf("%v", err)
		return
	}
	h.Relay(ctx, roomID, except, frame, false)
}

// Relay sends a ready frame to roomID on every node.
func (h *Hub) Relay(ctx context.Context, roomID, except string, frame []byte, volatile bool) {
	d := delivery{roomID: roomID, except: except, frame: frame, volatile: volatile}
	h.enqueue(ctx, d)
	h.publish(ctx, d)
}

func (h *Hub) enqueue(ctx context.Context, d delivery) {
	select {
	case h.deliver <- d:
	case <-h.quit:
	case <-ctx.Done():
	}
}

func (h *Hub) publish(ctx context.Context, d delivery) {
	msg := fanout.Message{RoomID: d.roomID, Target: d.target, Except: d.except, Frame: d.frame, Volatile: d.volatile}
	if err := h.bus.Publish(ctx, msg); err != nil {
		h.log.Warnf("fanout for room %s: %v", d.roomID, err)
	}
}
