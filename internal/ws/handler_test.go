package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-hub/internal/auth"
	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/models"
	"github.com/Vasu1712/scenyx-hub/internal/rooms"
	"github.com/Vasu1712/scenyx-hub/internal/session"
	"github.com/Vasu1712/scenyx-hub/internal/storage/memory"
)

const (
	readWrite = auth.PermissionRead | auth.PermissionUpdate
	readOnly  = auth.PermissionRead
)

type testServer struct {
	url      string
	verifier *auth.Verifier
	hub      *Hub
	handler  *Handler
	manager  *rooms.Manager
	cache    *memory.Cache
	// skew moves the server clock forward, in nanoseconds.
	skew atomic.Int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logging.Discard()
	cache, err := memory.New(memory.Options{Size: 1000}, log)
	require.NoError(t, err)

	ts := &testServer{}
	verifier, err := auth.NewVerifier("test-secret", 24*time.Hour)
	require.NoError(t, err)
	verifier.SetClock(func() time.Time { return time.Now().Add(time.Duration(ts.skew.Load())) })
	ts.verifier = verifier

	hub := NewHub(nil, "n1", log)
	go hub.Run()
	manager := rooms.NewManager(cache, hub, nil, rooms.Options{NodeID: "n1"}, log)
	sessions := session.NewStore(cache, time.Hour, log)
	handler := NewHandler(hub, manager, sessions, verifier, Options{NodeID: "n1", RecordingEnabled: true}, log)

	ts.hub, ts.handler, ts.manager, ts.cache = hub, handler, manager, cache

	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		manager.Close()
	})
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	return ts
}

func (ts *testServer) token(t *testing.T, userID string, permissions int) string {
	t.Helper()
	token, err := ts.verifier.Sign(auth.NewClaims(userID, "42", strings.ToUpper(userID[:1])+userID[1:], permissions, time.Now(), time.Hour))
	require.NoError(t, err)
	return token
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(t *testing.T, query string) *peer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.url+"?"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

// connect dials as userID and waits for init-room.
func (ts *testServer) connect(t *testing.T, userID string, permissions int) *peer {
	p := ts.dial(t, "token="+ts.token(t, userID, permissions))
	p.until(models.EventInitRoom)
	return p
}

func (p *peer) send(event string, args ...any) {
	p.t.Helper()
	frame, err := Encode(event, args...)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

// until reads frames up to and including the first event named event.
func (p *peer) until(event string) []Envelope {
	p.t.Helper()
	var seen []Envelope
	for {
		require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, frame, err := p.conn.ReadMessage()
		require.NoError(p.t, err, "waiting for %s", event)
		env, err := Decode(frame)
		require.NoError(p.t, err)
		seen = append(seen, env)
		if env.Event == event {
			return seen
		}
	}
}

func (p *peer) join(roomID string) []Envelope {
	p.send(models.EventJoinRoom, roomID)
	return p.until(models.EventSyncDesignate)
}

func isSyncer(t *testing.T, env Envelope) bool {
	var d models.SyncDesignate
	require.True(t, env.Arg(0, &d))
	return d.IsSyncer
}

func events(envs []Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

func expectClose(t *testing.T, p *peer, code int) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := p.conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "got %v", err)
		assert.Equal(t, code, ce.Code)
		return
	}
}

func TestHandshake(t *testing.T) {
	ts := newTestServer(t)

	t.Run("bad token is told and closed", func(t *testing.T) {
		p := ts.dial(t, "token=garbage")
		seen := p.until(models.EventInvalidToken)
		assert.Len(t, seen, 1)
		expectClose(t, p, CloseInvalidToken)
	})

	t.Run("missing token", func(t *testing.T) {
		p := ts.dial(t, "")
		p.until(models.EventInvalidToken)
		expectClose(t, p, CloseInvalidToken)
	})

	t.Run("bearer header", func(t *testing.T) {
		header := http.Header{"Authorization": {"Bearer " + ts.token(t, "alice", readWrite)}}
		conn, _, err := websocket.DefaultDialer.Dial(ts.url, header)
		require.NoError(t, err)
		defer conn.Close()
		(&peer{t: t, conn: conn}).until(models.EventInitRoom)
	})

	t.Run("recording agent bound to its room", func(t *testing.T) {
		agent := ts.dial(t, "recordingToken="+ts.verifier.SignRecording("7")+"&roomId=7")
		agent.until(models.EventInitRoom)
		seen := agent.join("7")
		assert.False(t, isSyncer(t, seen[len(seen)-1]))
	})

	t.Run("recording token for another room", func(t *testing.T) {
		p := ts.dial(t, "recordingToken="+ts.verifier.SignRecording("8")+"&roomId=7")
		p.until(models.EventInvalidToken)
		expectClose(t, p, CloseInvalidToken)
	})
}

func TestRoomFlow(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.connect(t, "alice", readWrite)
	seen := alice.join("room-1")
	assert.Contains(t, events(seen), models.EventRoomUserChange)
	assert.True(t, isSyncer(t, seen[len(seen)-1]))

	bob := ts.connect(t, "bob", readWrite)
	seen = bob.join("room-1")
	assert.False(t, isSyncer(t, seen[len(seen)-1]))

	joined := alice.until(models.EventUserJoined)
	var uj models.UserJoined
	require.True(t, joined[len(joined)-1].Arg(0, &uj))
	assert.Equal(t, "bob", uj.UserID)

	t.Run("reliable relay skips the sender", func(t *testing.T) {
		alice.send(models.EventServerBroadcast, "room-1", []byte("scene-bytes"), []byte("iv"))
		got := bob.until(models.EventClientBroadcast)
		var payload, iv []byte
		last := got[len(got)-1]
		require.True(t, last.Arg(0, &payload))
		require.True(t, last.Arg(1, &iv))
		assert.Equal(t, "scene-bytes", string(payload))
		assert.Equal(t, "iv", string(iv))

		alice.send(models.EventCheckRecordingAvailability)
		assert.NotContains(t, events(alice.until(models.EventRecordingAvailability)), models.EventClientBroadcast)
	})

	t.Run("wrong room is ignored", func(t *testing.T) {
		alice.send(models.EventServerBroadcast, "other-room", []byte("x"), nil)
		alice.send(models.EventServerVolatileBroadcast, "room-1", []byte("cursor"))
		got := bob.until(models.EventClientBroadcast)
		var payload []byte
		require.True(t, got[len(got)-1].Arg(0, &payload))
		assert.Equal(t, "cursor", string(payload))
	})

	t.Run("syncer hand-over on disconnect", func(t *testing.T) {
		require.NoError(t, alice.conn.Close())
		got := bob.until(models.EventSyncDesignate)
		assert.True(t, isSyncer(t, got[len(got)-1]))
	})
}

func TestReadOnlyCannotBroadcastReliably(t *testing.T) {
	ts := newTestServer(t)
	writer := ts.connect(t, "writer", readWrite)
	writer.join("r")
	viewer := ts.connect(t, "viewer", readOnly)
	seen := viewer.join("r")
	assert.False(t, isSyncer(t, seen[len(seen)-1]))

	viewer.send(models.EventServerBroadcast, "r", []byte("forbidden"), nil)
	viewer.send(models.EventServerVolatileBroadcast, "r", []byte("pointer"))

	got := writer.until(models.EventClientBroadcast)
	var payload []byte
	require.True(t, got[len(got)-1].Arg(0, &payload))
	assert.Equal(t, "pointer", string(payload))
}

func TestTokenLifecycle(t *testing.T) {
	ts := newTestServer(t)

	t.Run("expired token blocks privileged events", func(t *testing.T) {
		alice := ts.connect(t, "alice", readWrite)
		alice.join("t1")
		ts.skew.Store(int64(2 * time.Hour))
		defer ts.skew.Store(0)

		alice.send(models.EventPresentationStart, map[string]string{"fileId": "t1"})
		alice.until(models.EventTokenExpired)
	})

	t.Run("refresh for the same user", func(t *testing.T) {
		alice := ts.connect(t, "alice", readOnly)
		seen := alice.join("t2")
		assert.False(t, isSyncer(t, seen[len(seen)-1]))

		alice.send(models.EventRefreshToken, ts.token(t, "alice", readWrite))
		got := alice.until(models.EventTokenRefreshed)
		assert.Contains(t, events(got), models.EventSyncDesignate, "gaining write access makes the socket eligible")
	})

	t.Run("refresh for another user disconnects", func(t *testing.T) {
		alice := ts.connect(t, "alice", readWrite)
		alice.send(models.EventRefreshToken, ts.token(t, "mallory", readWrite))
		alice.until(models.EventInvalidToken)
		expectClose(t, alice, CloseInvalidToken)
	})
}

func TestActivityEvents(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.connect(t, "alice", readWrite)
	alice.join("a")
	bob := ts.connect(t, "bob", readWrite)
	bob.join("a")

	alice.send(models.EventPresentationStart, map[string]string{"fileId": "a", "userId": "alice"})
	alice.until(models.EventPresentationStarted)
	bob.until(models.EventUserStartedPresenting)

	bob.send(models.EventRequestPresenterViewport, map[string]string{"fileId": "a"})
	alice.until(models.EventRequestPresenterViewport)

	bob.send(models.EventTimerStart, map[string]any{"roomId": "a", "durationMs": 60000})
	alice.until(models.EventTimerState)
	bob.until(models.EventTimerState)

	bob.send(models.EventVotingStart, map[string]any{"roomId": "a", "votingId": "v1", "question": "Ship?", "options": []string{"yes", "no"}})
	alice.until(models.EventVotingStarted)
	alice.send(models.EventVotingVote, map[string]any{"roomId": "a", "votingId": "v9", "option": "yes"})
	alice.until(models.EventVotingError)

	alice.send(models.EventStartRecording, map[string]string{"fileId": "a", "uploadToken": "up"})
	alice.until(models.EventRecordingStarted)
	bob.until(models.EventUserStartedRecording)
	alice.send(models.EventStopRecording, "a")
	got := alice.until(models.EventRecordingStopped)
	var stopped rooms.RecordingStopped
	require.True(t, got[len(got)-1].Arg(0, &stopped))
	assert.Equal(t, "up", stopped.UploadToken)
}

func TestShutdownLeavesRoomsBeforeReturning(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	alice := ts.connect(t, "alice", readWrite)
	alice.join("42")
	bob := ts.connect(t, "bob", readWrite)
	bob.join("42")
	require.Len(t, ts.manager.State(ctx, "42").Members, 2)

	ts.hub.Stop()
	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, ts.handler.Drain(drainCtx))
	assert.Empty(t, ts.manager.State(ctx, "42").Members, "every local socket left before the manager closes")
	assert.Zero(t, ts.cache.Len(), "disconnect clears every session key")

	late := ts.dial(t, "token="+ts.token(t, "carol", readWrite))
	late.until(models.EventConnectError)
	expectClose(t, late, CloseSetupFailed)
}

func TestSelectionReachesOtherMembers(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.connect(t, "alice", readWrite)
	alice.join("sel")
	bob := ts.connect(t, "bob", readOnly)
	bob.join("sel")
	alice.until(models.EventUserJoined)

	alice.send(models.EventUserSelection, "sel", map[string]bool{"e1": true})
	got := bob.until(models.EventRoomUserChange)
	var roster []models.RosterEntry
	require.True(t, got[len(got)-1].Arg(0, &roster))
	require.Len(t, roster, 2)
	assert.JSONEq(t, `{"e1":true}`, string(roster[0].Selection))
}
