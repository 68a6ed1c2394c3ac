package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Vasu1712/scenyx-hub/internal/auth"
	"github.com/Vasu1712/scenyx-hub/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Scene payloads carry images.
	maxMessageSize = 8 << 20

	sendBuffer = 256
)

// Client is one socket connected to this node.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// volatile throttles server-volatile-broadcast from this socket.
	volatile *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       auth.ConnState
	token       string
	claims      *auth.Claims
	user        models.User
	readOnly    bool
	connectedAt time.Time
	roomID      string
	// agentRoom is set for recording agents, which may only join that room.
	agentRoom string

	// Guarded by the hub. closeCode is set before send is closed.
	closeCode int
	dropped   bool
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setState(to auth.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.Transition(to)
	if err != nil {
		return
	}
	c.state = next
}

// emit queues event for this socket through the hub.
func (c *Client) emit(event string, args ...any) {
	c.hub.ToSocket(c.ctx, c.room(), c.ID, event, args...)
}

// writePump pumps frames from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				msg := []byte{}
				if c.closeCode != 0 {
					msg = websocket.FormatCloseMessage(c.closeCode, "")
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection fails, handing each decoded
// envelope to handle. cleanup runs once the socket is gone.
func (c *Client) readPump(handle func(Envelope), cleanup func()) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		cleanup()
		c.cancel()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugf("socket %s read error: %v", c.ID, err)
			}
			return
		}
		env, err := Decode(frame)
		if err != nil {
			c.hub.log.Debugf("socket %s: %v", c.ID, err)
			continue
		}
		handle(env)
	}
}

// reject sends event to a socket that never made it into the hub and closes
// it with code.
func reject(conn *websocket.Conn, code int, event, message string) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if frame, err := Encode(event, models.ErrorMessage{Message: message}); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, message), time.Now().Add(writeWait))
}
