package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Vasu1712/scenyx-hub/internal/auth"
	"github.com/Vasu1712/scenyx-hub/internal/collab"
	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/models"
	"github.com/Vasu1712/scenyx-hub/internal/rooms"
	"github.com/Vasu1712/scenyx-hub/internal/session"
)

// Close codes sent after a failed handshake.
const (
	CloseInvalidToken = 4001
	CloseSetupFailed  = websocket.CloseInternalServerErr
)

// RecordingAgentUser is the identity given to recording-agent sockets.
var RecordingAgentUser = models.User{ID: "recording-agent", Name: "Recording Agent"}

var errRecordingDisabled = errors.New("recording is disabled on this server")

type Options struct {
	NodeID           string
	RecordingEnabled bool
	VolatileRate     float64
	VolatileBurst    int
	CheckOrigin      func(r *http.Request) bool
}

// Handler authenticates sockets and dispatches their events.
type Handler struct {
	hub      *Hub
	rooms    *rooms.Manager
	sessions *session.Store
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	opts     Options
	log      *logging.Logger

	// conns counts sockets whose disconnect cleanup has not finished.
	conns    sync.WaitGroup
	connMu   sync.Mutex
	draining bool
}

func NewHandler(hub *Hub, manager *rooms.Manager, sessions *session.Store, verifier *auth.Verifier, opts Options, log *logging.Logger) *Handler {
	if opts.VolatileRate <= 0 {
		opts.VolatileRate = 30
	}
	if opts.VolatileBurst <= 0 {
		opts.VolatileBurst = 15
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:      hub,
		rooms:    manager,
		sessions: sessions,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		opts: opts,
		log:  log.With("Socket"),
	}
}

// bearer reads the token from the query string or the Authorization header.
func bearer(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ServeWS upgrades the request and runs the handshake. Authentication
// failures are reported on the socket as invalid-token before it is closed.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:       uuid.NewString(),
		hub:      h.hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		volatile: rate.NewLimiter(rate.Limit(h.opts.VolatileRate), h.opts.VolatileBurst),
		ctx:      ctx,
		cancel:   cancel,
		state:    auth.StateConnecting,
	}

	q := r.URL.Query()
	if recToken := q.Get("recordingToken"); recToken != "" {
		roomID := q.Get("roomId")
		if err := h.verifier.VerifyRecording(recToken, roomID); err != nil || roomID == "" {
			h.log.Warnf("recording agent rejected for room %q: %v", roomID, err)
			cancel()
			reject(conn, CloseInvalidToken, models.EventInvalidToken, auth.ErrInvalidToken.Error())
			return
		}
		client.user = RecordingAgentUser
		client.readOnly = true
		client.agentRoom = roomID
	} else {
		claims, err := h.verifier.Verify(bearer(r))
		if err != nil {
			h.log.Infof("handshake rejected: %v", err)
			cancel()
			reject(conn, CloseInvalidToken, models.EventInvalidToken, auth.ErrInvalidToken.Error())
			return
		}
		client.token = bearer(r)
		client.claims = claims
		client.user = claims.User
		client.readOnly = claims.ReadOnly()
	}
	client.connectedAt = h.verifier.Now()

	if !h.track() {
		cancel()
		reject(conn, CloseSetupFailed, models.EventConnectError, "server shutting down")
		return
	}
	if !h.hub.add(client) {
		h.conns.Done()
		cancel()
		reject(conn, CloseSetupFailed, models.EventConnectError, "server shutting down")
		return
	}
	h.sessions.SetSocketData(ctx, models.Session{
		SocketID:       client.ID,
		User:           client.user,
		IsFileReadOnly: client.readOnly,
		ConnectedAt:    client.connectedAt,
	})
	h.sessions.SetConnectedAt(ctx, client.ID, client.connectedAt)
	client.setState(auth.StateAuthenticated)
	h.log.Infof("socket %s connected as %s (readOnly=%t)", client.ID, client.user.ID, client.readOnly)

	go client.writePump()
	client.emit(models.EventInitRoom)
	go client.readPump(func(env Envelope) { h.dispatch(client, env) }, func() {
		defer h.conns.Done()
		h.disconnect(client)
	})
}

func (h *Handler) track() bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.draining {
		return false
	}
	h.conns.Add(1)
	return true
}

// Drain refuses new sockets and waits until every connected socket has left
// its room and cleared its session, or ctx ends. Stop the hub first so the
// sockets are actually closing.
func (h *Handler) Drain(ctx context.Context) error {
	h.connMu.Lock()
	h.draining = true
	h.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// disconnect leaves the socket's room and forgets its session.
func (h *Handler) disconnect(c *Client) {
	ctx := context.WithoutCancel(c.ctx)
	c.mu.Lock()
	roomID, token := c.roomID, c.token
	c.mu.Unlock()
	c.setState(auth.StateDisconnected)

	if roomID != "" {
		if err := h.rooms.Leave(ctx, roomID, c.ID, token); err != nil {
			h.log.Warnf("socket %s leaving room %s: %v", c.ID, roomID, err)
		}
	}
	h.sessions.ClearSocketMeta(ctx, c.ID)
	h.log.Infof("socket %s disconnected", c.ID)
}

func (h *Handler) dispatch(c *Client, env Envelope) {
	c.mu.Lock()
	agent := c.agentRoom != ""
	c.mu.Unlock()
	if agent && env.Event != models.EventJoinRoom {
		h.log.Debugf("recording agent %s sent %s, ignored", c.ID, env.Event)
		return
	}

	switch env.Event {
	case models.EventJoinRoom:
		h.joinRoom(c, env)
	case models.EventServerBroadcast:
		h.broadcast(c, env, false)
	case models.EventServerVolatileBroadcast:
		h.broadcast(c, env, true)
	case models.EventRequestPresenterViewport:
		h.requestViewport(c)
	case models.EventCheckRecordingAvailability:
		c.emit(models.EventRecordingAvailability, map[string]bool{"available": h.opts.RecordingEnabled})
	case models.EventStartRecording:
		h.startRecording(c, env)
	case models.EventStopRecording:
		h.stopRecording(c, env)
	case models.EventPresentationStart:
		h.presentation(c, true)
	case models.EventPresentationStop:
		h.presentation(c, false)
	case models.EventRefreshToken:
		h.refreshToken(c, env)
	case models.EventFollowUser:
		h.follow(c, env)
	case models.EventUserSelection:
		h.selection(c, env)
	case models.EventUnfollowUser:
		h.sessions.ClearFollowing(c.ctx, c.ID)
	case models.EventTimerStart, models.EventTimerPause, models.EventTimerResume, models.EventTimerReset, models.EventTimerExtend:
		h.timer(c, env)
	case models.EventVotingStart, models.EventVotingVote, models.EventVotingEnd:
		h.voting(c, env)
	default:
		h.log.Debugf("socket %s sent unknown event %q", c.ID, env.Event)
	}
}

func (h *Handler) joinRoom(c *Client, env Envelope) {
	var roomID string
	if !env.Arg(0, &roomID) || roomID == "" {
		h.log.Debugf("socket %s: join-room without room id", c.ID)
		return
	}

	c.mu.Lock()
	prev, agentRoom := c.roomID, c.agentRoom
	member := models.Member{SocketID: c.ID, User: c.user, IsFileReadOnly: c.readOnly, ConnectedAt: c.connectedAt, NodeID: h.opts.NodeID}
	token := c.token
	c.mu.Unlock()

	if agentRoom != "" && roomID != agentRoom {
		h.log.Warnf("recording agent %s tried to join room %s", c.ID, roomID)
		return
	}
	if prev != "" && prev != roomID {
		h.hub.LeaveRoom(c, prev)
		if err := h.rooms.Leave(c.ctx, prev, c.ID, token); err != nil {
			h.log.Warnf("socket %s leaving room %s: %v", c.ID, prev, err)
		}
	}

	h.hub.JoinRoom(c, roomID)
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
	h.sessions.SetSocketData(c.ctx, models.Session{
		SocketID:       c.ID,
		User:           member.User,
		RoomID:         roomID,
		IsFileReadOnly: member.IsFileReadOnly,
		ConnectedAt:    member.ConnectedAt,
	})

	if err := h.rooms.Join(c.ctx, roomID, member); err != nil {
		h.log.Errorf("socket %s joining room %s: %v", c.ID, roomID, err)
		c.emit(models.EventConnectError, models.ErrorMessage{Message: "could not join room"})
		return
	}
	c.setState(auth.StateActive)
}

// inRoom reports whether roomID is the room c joined.
func (h *Handler) inRoom(c *Client, roomID string) bool {
	current := c.room()
	if current == "" || current != roomID {
		h.log.Debugf("socket %s sent to room %q outside its room %q", c.ID, roomID, current)
		return false
	}
	return true
}

// fresh reports whether c's token is still valid, telling the client to
// refresh when it is not.
func (h *Handler) fresh(c *Client) bool {
	c.mu.Lock()
	claims := c.claims
	c.mu.Unlock()
	if claims == nil {
		return false
	}
	if exp := claims.Expiry(); !exp.IsZero() && !h.verifier.Now().Before(exp) {
		c.setState(auth.StateTokenExpiring)
		c.emit(models.EventTokenExpired, models.ErrorMessage{Message: auth.ErrTokenExpired.Error()})
		return false
	}
	return true
}

func (h *Handler) broadcast(c *Client, env Envelope, volatile bool) {
	var roomID string
	var payload, iv []byte
	if !env.Arg(0, &roomID) || !env.Arg(1, &payload) {
		h.log.Debugf("socket %s: malformed %s", c.ID, env.Event)
		return
	}
	env.Arg(2, &iv)
	if !h.inRoom(c, roomID) {
		return
	}

	if volatile {
		if !c.volatile.Allow() {
			return
		}
		frame, err := Encode(models.EventClientBroadcast, payload)
		if err != nil {
			return
		}
		h.hub.Relay(c.ctx, roomID, c.ID, frame, true)
		return
	}

	c.mu.Lock()
	readOnly := c.readOnly
	c.mu.Unlock()
	if readOnly {
		h.log.Debugf("read-only socket %s tried to broadcast", c.ID)
		return
	}
	if !h.fresh(c) {
		return
	}
	args := []any{payload}
	if len(iv) > 0 {
		args = append(args, iv)
	}
	frame, err := Encode(models.EventClientBroadcast, args...)
	if err != nil {
		return
	}
	h.hub.Relay(c.ctx, roomID, c.ID, frame, false)
	if len(iv) == 0 {
		if err := h.rooms.RecordScene(c.ctx, roomID, c.ID, payload); err != nil {
			h.log.Debugf("recording scene for room %s: %v", roomID, err)
		}
	}
}

func (h *Handler) selection(c *Client, env Envelope) {
	var roomID string
	if !env.Arg(0, &roomID) || !h.inRoom(c, roomID) {
		return
	}
	var selection json.RawMessage
	if len(env.Args) > 1 {
		selection = env.Args[1]
	}
	if err := h.rooms.SetSelection(c.ctx, roomID, c.ID, selection); err != nil {
		h.log.Debugf("socket %s selection: %v", c.ID, err)
	}
}

func (h *Handler) requestViewport(c *Client) {
	roomID := c.room()
	if roomID == "" {
		return
	}
	presenter, ok := h.rooms.Presenter(c.ctx, roomID)
	if !ok || presenter == c.ID {
		return
	}
	h.hub.ToSocket(c.ctx, roomID, presenter, models.EventRequestPresenterViewport)
}

func (h *Handler) startRecording(c *Client, env Envelope) {
	if !h.opts.RecordingEnabled {
		c.emit(models.EventRecordingError, models.ErrorMessage{Message: errRecordingDisabled.Error()})
		return
	}
	roomID := c.room()
	if roomID == "" || !h.fresh(c) {
		return
	}
	var req collab.RecordingRequest
	env.Arg(0, &req)
	_ = h.rooms.StartRecording(c.ctx, roomID, c.ID, req)
}

func (h *Handler) stopRecording(c *Client, env Envelope) {
	roomID := c.room()
	var requested string
	if env.Arg(0, &requested) && requested != roomID {
		h.log.Debugf("socket %s: stop-recording for %q while in %q", c.ID, requested, roomID)
		return
	}
	if roomID == "" || !h.fresh(c) {
		return
	}
	_ = h.rooms.StopRecording(c.ctx, roomID, c.ID)
}

func (h *Handler) presentation(c *Client, start bool) {
	roomID := c.room()
	if roomID == "" || !h.fresh(c) {
		return
	}
	if start {
		_ = h.rooms.StartPresentation(c.ctx, roomID, c.ID)
		return
	}
	_ = h.rooms.StopPresentation(c.ctx, roomID, c.ID)
}

// refreshToken swaps the socket's token in place. The new token must name
// the same user; its permissions replace the old ones.
func (h *Handler) refreshToken(c *Client, env Envelope) {
	var token string
	if !env.Arg(0, &token) {
		return
	}
	c.mu.Lock()
	userID := c.user.ID
	c.mu.Unlock()

	c.setState(auth.StateReauthenticating)
	claims, err := h.verifier.Reverify(token, userID)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		c.setState(auth.StateTokenExpiring)
		c.emit(models.EventTokenExpired, models.ErrorMessage{Message: auth.ErrTokenExpired.Error()})
		return
	case err != nil:
		h.log.Warnf("socket %s refresh rejected: %v", c.ID, err)
		c.emit(models.EventInvalidToken, models.ErrorMessage{Message: auth.ErrInvalidToken.Error()})
		h.hub.Kick(c.ctx, c.ID, CloseInvalidToken)
		return
	}

	c.mu.Lock()
	c.token = token
	c.claims = claims
	c.user = claims.User
	c.readOnly = claims.ReadOnly()
	roomID := c.roomID
	sess := models.Session{SocketID: c.ID, User: c.user, RoomID: roomID, IsFileReadOnly: c.readOnly, ConnectedAt: c.connectedAt}
	c.mu.Unlock()

	h.sessions.SetSocketData(c.ctx, sess)
	if roomID != "" {
		if err := h.rooms.UpdateMember(c.ctx, roomID, c.ID, sess.User, sess.IsFileReadOnly); err != nil {
			h.log.Warnf("socket %s updating membership: %v", c.ID, err)
		}
	}
	c.setState(auth.StateActive)
	c.emit(models.EventTokenRefreshed, map[string]any{"expiresAt": claims.Expiry().UnixMilli(), "isFileReadOnly": sess.IsFileReadOnly})
}

func (h *Handler) follow(c *Client, env Envelope) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !env.Arg(0, &req) || req.UserID == "" {
		return
	}
	h.sessions.SetFollowing(c.ctx, c.ID, req.UserID)
}

func (h *Handler) timer(c *Client, env Envelope) {
	var req struct {
		RoomID     string `json:"roomId"`
		DurationMs int64  `json:"durationMs"`
		DeltaMs    int64  `json:"deltaMs"`
	}
	env.Arg(0, &req)
	roomID := c.room()
	if req.RoomID != "" && req.RoomID != roomID {
		return
	}
	if roomID == "" || !h.fresh(c) {
		return
	}
	action := rooms.TimerAction{Event: env.Event, Duration: time.Duration(req.DurationMs) * time.Millisecond}
	if env.Event == models.EventTimerExtend {
		action.Duration = time.Duration(req.DeltaMs) * time.Millisecond
	}
	_ = h.rooms.Timer(c.ctx, roomID, c.ID, action)
}

func (h *Handler) voting(c *Client, env Envelope) {
	var req struct {
		RoomID   string   `json:"roomId"`
		VotingID string   `json:"votingId"`
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Option   string   `json:"option"`
	}
	env.Arg(0, &req)
	roomID := c.room()
	if req.RoomID != "" && req.RoomID != roomID {
		return
	}
	if roomID == "" || !h.fresh(c) {
		return
	}
	switch env.Event {
	case models.EventVotingStart:
		_ = h.rooms.StartVoting(c.ctx, roomID, c.ID, req.VotingID, req.Question, req.Options)
	case models.EventVotingVote:
		_ = h.rooms.Vote(c.ctx, roomID, c.ID, req.VotingID, req.Option)
	case models.EventVotingEnd:
		_ = h.rooms.EndVoting(c.ctx, roomID, c.ID, req.VotingID)
	}
}
