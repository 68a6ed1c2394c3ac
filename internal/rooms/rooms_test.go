package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/scenyx-hub/internal/collab"
	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/models"
	"github.com/Vasu1712/scenyx-hub/internal/reconcile"
	"github.com/Vasu1712/scenyx-hub/internal/storage"
	"github.com/Vasu1712/scenyx-hub/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	to     string
	except string
	event  string
	args   []any
}

type recorder struct {
	mu     sync.Mutex
	events []sent
}

func (r *recorder) ToSocket(_ context.Context, _, socketID, event string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{to: socketID, event: event, args: args})
}

func (r *recorder) ToRoom(_ context.Context, _, except, event string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{except: except, event: event, args: args})
}

// direct returns what was sent to socketID alone under event.
func (r *recorder) direct(socketID, event string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, e := range r.events {
		if e.to == socketID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) broadcasts(event string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, e := range r.events {
		if e.to == "" && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fakePersister struct {
	mu    sync.Mutex
	err   error
	saved map[string]reconcile.Scene
	token string
}

func (p *fakePersister) Save(_ context.Context, fileID, token string, scene reconcile.Scene) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.saved == nil {
		p.saved = map[string]reconcile.Scene{}
	}
	p.saved[fileID] = scene
	p.token = token
	return nil
}

// newManager returns a single-node manager and the store holding its rooms.
func newManager(t *testing.T, persist Persister) (*Manager, *recorder, storage.Adapter) {
	t.Helper()
	cache, err := memory.New(memory.Options{Size: 100}, logging.Discard())
	require.NoError(t, err)
	rec := &recorder{}
	m := NewManager(cache, rec, persist, Options{NodeID: "n1", Now: func() time.Time { return t0 }}, logging.Discard())
	t.Cleanup(m.Close)
	return m, rec, m.store
}

func member(socketID, userID string, at time.Duration, readOnly bool) models.Member {
	return models.Member{
		SocketID:       socketID,
		User:           models.User{ID: userID, Name: userID},
		IsFileReadOnly: readOnly,
		ConnectedAt:    t0.Add(at),
	}
}

func designations(rec *recorder, socketID string) []bool {
	var out []bool
	for _, e := range rec.direct(socketID, models.EventSyncDesignate) {
		out = append(out, e.args[0].(models.SyncDesignate).IsSyncer)
	}
	return out
}

func TestElect(t *testing.T) {
	a := member("a", "u1", 0, false)
	b := member("b", "u2", time.Second, false)
	c := member("c", "u3", time.Second, false)
	ro := member("r", "u4", -time.Hour, true)

	tests := []struct {
		name    string
		members []models.Member
		current string
		want    string
	}{
		{"empty room", nil, "", ""},
		{"only read-only", []models.Member{ro}, "", ""},
		{"first eligible", []models.Member{ro, b}, "", "b"},
		{"earliest wins", []models.Member{c, b, a}, "", "a"},
		{"socket id breaks ties", []models.Member{c, b}, "", "b"},
		{"current kept", []models.Member{a, b}, "b", "b"},
		{"current gone", []models.Member{b, c}, "a", "b"},
		{"read-only current replaced", []models.Member{ro, c}, "r", "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Elect(tt.members, tt.current))
		})
	}
}

func TestJoinAndLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("syncer hand-over picks the earliest remaining member", func(t *testing.T) {
		m, rec, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "7", member("A", "alice", 0, false)))
		require.NoError(t, m.Join(ctx, "7", member("B", "bob", time.Second, false)))
		require.NoError(t, m.Join(ctx, "7", member("C", "carol", 2*time.Second, false)))
		assert.Equal(t, "A", m.State(ctx, "7").SyncerSocketID)
		assert.Equal(t, []bool{true}, designations(rec, "A"))
		assert.Equal(t, []bool{false}, designations(rec, "C"))

		rec.reset()
		require.NoError(t, m.Leave(ctx, "7", "A", "tok"))
		assert.Equal(t, "B", m.State(ctx, "7").SyncerSocketID)
		assert.Equal(t, []bool{true}, designations(rec, "B"))
		assert.Equal(t, []bool{false}, designations(rec, "C"))
		assert.Empty(t, designations(rec, "A"))

		roster := rec.broadcasts(models.EventRoomUserChange)
		require.Len(t, roster, 1)
		entries := roster[0].args[0].([]models.RosterEntry)
		require.Len(t, entries, 2)
		assert.True(t, entries[0].IsSyncer)
		assert.Equal(t, "bob", entries[0].ID)
	})

	t.Run("read-only members are never elected", func(t *testing.T) {
		m, rec, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "r", member("ro", "viewer", 0, true)))
		assert.Empty(t, m.State(ctx, "r").SyncerSocketID)
		assert.Equal(t, []bool{false}, designations(rec, "ro"))

		require.NoError(t, m.Join(ctx, "r", member("w", "writer", time.Second, false)))
		assert.Equal(t, "w", m.State(ctx, "r").SyncerSocketID)

		require.NoError(t, m.Leave(ctx, "r", "w", ""))
		assert.Empty(t, m.State(ctx, "r").SyncerSocketID)
	})

	t.Run("joiner sees others but not its own user-joined", func(t *testing.T) {
		m, rec, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "x", member("A", "alice", 0, false)))
		require.NoError(t, m.Join(ctx, "x", member("B", "bob", time.Second, false)))

		joined := rec.broadcasts(models.EventUserJoined)
		require.Len(t, joined, 2)
		assert.Equal(t, "B", joined[1].except)
		payload := joined[1].args[0].(models.UserJoined)
		assert.Equal(t, "bob", payload.UserID)
		assert.False(t, payload.IsSyncer)
	})

	t.Run("leave is idempotent", func(t *testing.T) {
		m, rec, store := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "i", member("A", "alice", 0, false)))
		require.NoError(t, m.Leave(ctx, "i", "A", ""))
		_, ok := store.Get(ctx, storage.RoomStateKey("i"))
		assert.False(t, ok, "empty rooms are dropped")

		rec.reset()
		require.NoError(t, m.Leave(ctx, "i", "A", ""))
		require.NoError(t, m.Leave(ctx, "never", "A", ""))
		assert.Empty(t, rec.events)
	})

	t.Run("rejoin replaces the member record", func(t *testing.T) {
		m, _, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "j", member("A", "alice", 0, false)))
		require.NoError(t, m.Join(ctx, "j", member("A", "alice", 0, false)))
		assert.Len(t, m.State(ctx, "j").Members, 1)
	})
}

func TestConcurrentJoinsElectOneSyncer(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newManager(t, nil)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%02d", i)
			assert.NoError(t, m.Join(ctx, "busy", member(sid, sid, time.Duration(i)*time.Millisecond, false)))
		}(i)
	}
	wg.Wait()

	st := m.State(ctx, "busy")
	assert.Len(t, st.Members, n)
	require.NotEmpty(t, st.SyncerSocketID)

	winners := 0
	for _, e := range rec.events {
		if e.event == models.EventSyncDesignate && e.args[0].(models.SyncDesignate).IsSyncer {
			winners++
			assert.Equal(t, st.SyncerSocketID, e.to)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestUpdateMember(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newManager(t, nil)
	require.NoError(t, m.Join(ctx, "u", member("A", "alice", 0, false)))
	require.NoError(t, m.Join(ctx, "u", member("B", "bob", time.Second, false)))

	rec.reset()
	require.NoError(t, m.UpdateMember(ctx, "u", "A", models.User{ID: "alice", Name: "Alice"}, true))
	assert.Equal(t, "B", m.State(ctx, "u").SyncerSocketID, "losing write access hands the role over")
	assert.Equal(t, []bool{false}, designations(rec, "A"))
	assert.Equal(t, []bool{true}, designations(rec, "B"))

	rec.reset()
	require.NoError(t, m.UpdateMember(ctx, "u", "A", models.User{ID: "alice", Name: "Alice"}, true))
	assert.Empty(t, rec.events, "unchanged identity is a no-op")
}

const sceneMsg = `{"type":"SCENE_UPDATE","payload":{"elements":[{"id":"e1","version":2,"versionNonce":7}]}}`

func TestDrainPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("dirty scene is saved with the leaver's token", func(t *testing.T) {
		p := &fakePersister{}
		m, rec, store := newManager(t, p)
		require.NoError(t, m.Join(ctx, "d", member("A", "alice", 0, false)))
		require.NoError(t, m.RecordScene(ctx, "d", "A", []byte(sceneMsg)))
		assert.True(t, m.State(ctx, "d").SceneDirty)

		require.NoError(t, m.Join(ctx, "d", member("B", "bob", time.Second, false)))
		joined := rec.direct("B", models.EventJoinedData)
		require.Len(t, joined, 1)
		assert.Len(t, joined[0].args[0].(*reconcile.Scene).Elements, 1)

		require.NoError(t, m.Leave(ctx, "d", "A", "a-token"))
		require.NoError(t, m.Leave(ctx, "d", "B", "b-token"))
		require.Contains(t, p.saved, "d")
		assert.Equal(t, "b-token", p.token)
		_, ok := store.Get(ctx, storage.RoomSceneKey("d"))
		assert.False(t, ok)
	})

	t.Run("failed save keeps the scene", func(t *testing.T) {
		p := &fakePersister{err: errors.New("unreachable")}
		m, _, store := newManager(t, p)
		require.NoError(t, m.Join(ctx, "f", member("A", "alice", 0, false)))
		require.NoError(t, m.RecordScene(ctx, "f", "A", []byte(sceneMsg)))
		require.NoError(t, m.Leave(ctx, "f", "A", "a-token"))
		_, ok := store.Get(ctx, storage.RoomSceneKey("f"))
		assert.True(t, ok)
	})

	t.Run("read-only and encrypted updates are not recorded", func(t *testing.T) {
		m, _, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "e", member("R", "viewer", 0, true)))
		require.NoError(t, m.RecordScene(ctx, "e", "R", []byte(sceneMsg)))
		require.NoError(t, m.RecordScene(ctx, "e", "R", []byte{0x01, 0x02}))
		_, ok := m.Scene(ctx, "e")
		assert.False(t, ok)
	})
}

func TestActivities(t *testing.T) {
	ctx := context.Background()

	t.Run("presenter is announced to late joiners and cleared on leave", func(t *testing.T) {
		m, rec, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "p", member("A", "alice", 0, false)))
		require.NoError(t, m.StartPresentation(ctx, "p", "A"))
		sid, ok := m.Presenter(ctx, "p")
		assert.True(t, ok)
		assert.Equal(t, "A", sid)

		require.NoError(t, m.Join(ctx, "p", member("B", "bob", time.Second, true)))
		assert.Len(t, rec.direct("B", models.EventUserStartedPresenting), 1)

		err := m.StartPresentation(ctx, "p", "B")
		assert.ErrorIs(t, err, collab.ErrBusy)
		assert.Len(t, rec.direct("B", models.EventPresentationError), 1)

		require.NoError(t, m.Leave(ctx, "p", "A", ""))
		assert.Len(t, rec.broadcasts(models.EventUserStoppedPresenting), 1)
		_, ok = m.Presenter(ctx, "p")
		assert.False(t, ok)
	})

	t.Run("recording hands the upload token back", func(t *testing.T) {
		m, rec, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "rec", member("A", "alice", 0, false)))
		require.NoError(t, m.StartRecording(ctx, "rec", "A", collab.RecordingRequest{UploadToken: "up"}))
		assert.Equal(t, collab.RecordingActive, m.State(ctx, "rec").Recording.Status)

		assert.ErrorIs(t, m.StopRecording(ctx, "rec", "B"), collab.ErrNotOwner)
		require.NoError(t, m.StopRecording(ctx, "rec", "A"))
		stopped := rec.direct("A", models.EventRecordingStopped)
		require.Len(t, stopped, 1)
		assert.Equal(t, RecordingStopped{FileID: "rec", UploadToken: "up"}, stopped[0].args[0])
	})

	t.Run("timer needs write access", func(t *testing.T) {
		m, rec, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "t", member("A", "alice", 0, false)))
		require.NoError(t, m.Join(ctx, "t", member("R", "viewer", time.Second, true)))

		assert.ErrorIs(t, m.Timer(ctx, "t", "R", TimerAction{Event: models.EventTimerStart, Duration: time.Minute}), ErrReadOnly)
		require.NoError(t, m.Timer(ctx, "t", "A", TimerAction{Event: models.EventTimerStart, Duration: time.Minute}))
		states := rec.broadcasts(models.EventTimerState)
		require.Len(t, states, 1)
		assert.Equal(t, collab.TimerRunning, states[0].args[0].(collab.Timer).Status)

		require.NoError(t, m.Join(ctx, "t", member("C", "carol", 2*time.Second, false)))
		assert.Len(t, rec.direct("C", models.EventTimerState), 1)
	})

	t.Run("voting", func(t *testing.T) {
		m, rec, _ := newManager(t, nil)
		require.NoError(t, m.Join(ctx, "v", member("A", "alice", 0, false)))
		require.NoError(t, m.Join(ctx, "v", member("R", "viewer", time.Second, true)))

		require.NoError(t, m.StartVoting(ctx, "v", "A", "q1", "Ship?", []string{"yes", "no"}))
		require.NoError(t, m.Vote(ctx, "v", "R", "q1", "yes"))
		assert.ErrorIs(t, m.Vote(ctx, "v", "R", "q2", "yes"), collab.ErrClosed)
		assert.ErrorIs(t, m.EndVoting(ctx, "v", "R", "q1"), ErrReadOnly)
		require.NoError(t, m.EndVoting(ctx, "v", "A", "q1"))

		ended := rec.broadcasts(models.EventVotingEnded)
		require.Len(t, ended, 1)
		assert.Equal(t, map[string]int{"yes": 1}, ended[0].args[0].(PollClosed).Tally)
	})
}

type countingLocker struct {
	storage.Adapter
	mu     sync.Mutex
	held   map[string]bool
	locks  int
	denied int
}

func (c *countingLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[key] {
		c.denied++
		return "", false
	}
	c.held[key] = true
	c.locks++
	return "t", true
}

func (c *countingLocker) Unlock(_ context.Context, key, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, key)
}

func TestSharedAdapterTakesRoomLock(t *testing.T) {
	ctx := context.Background()
	cache, err := memory.New(memory.Options{Size: 100}, logging.Discard())
	require.NoError(t, err)
	locker := &countingLocker{Adapter: cache, held: map[string]bool{}}
	m := NewManager(locker, &recorder{}, nil, Options{}, logging.Discard())
	defer m.Close()

	require.NoError(t, m.Join(ctx, "l", member("A", "alice", 0, false)))
	require.NoError(t, m.Leave(ctx, "l", "A", ""))
	assert.Equal(t, 2, locker.locks)
	assert.Empty(t, locker.held)
}

func TestClosedManagerRejects(t *testing.T) {
	m, _, _ := newManager(t, nil)
	m.Close()
	assert.ErrorIs(t, m.Join(context.Background(), "c", member("A", "alice", 0, false)), ErrClosed)
}

func TestPersistersTryEveryTarget(t *testing.T) {
	failing := &fakePersister{err: errors.New("store down")}
	ok := &fakePersister{}
	scene := reconcile.Scene{}

	err := Persisters{failing, ok}.Save(context.Background(), "f", "tok", scene)
	assert.ErrorContains(t, err, "store down")
	assert.Contains(t, ok.saved, "f")
	assert.Equal(t, "tok", ok.token)

	assert.NoError(t, Persisters{ok}.Save(context.Background(), "g", "tok", scene))
	assert.NoError(t, Persisters{}.Save(context.Background(), "h", "tok", scene))
}

func TestRoomStateSurvivesSessionChurn(t *testing.T) {
	ctx := context.Background()
	cache, err := memory.New(memory.Options{Size: 10}, logging.Discard())
	require.NoError(t, err)
	rec := &recorder{}
	m := NewManager(cache, rec, nil, Options{Now: func() time.Time { return t0 }}, logging.Discard())
	defer m.Close()

	require.NoError(t, m.Join(ctx, "r", member("A", "alice", 0, false)))
	for i := 0; i < 20; i++ {
		cache.Set(ctx, storage.SocketDataKey(fmt.Sprintf("other-%d", i)), []byte(`{}`), time.Hour)
	}
	require.NoError(t, m.Join(ctx, "r", member("B", "bob", time.Second, false)))

	st := m.State(ctx, "r")
	assert.Len(t, st.Members, 2)
	assert.Equal(t, "A", st.SyncerSocketID)
	assert.Equal(t, []bool{true}, designations(rec, "A"))
	assert.Equal(t, []bool{false}, designations(rec, "B"))
}

type deniedLocker struct {
	storage.Adapter
	mu       sync.Mutex
	attempts int
}

func (d *deniedLocker) TryLock(context.Context, string, time.Duration) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	return "", false
}

func (d *deniedLocker) Unlock(context.Context, string, string) {}

func TestLockTimeoutLeavesRoomUntouched(t *testing.T) {
	ctx := context.Background()
	cache, err := memory.New(memory.Options{Size: 100}, logging.Discard())
	require.NoError(t, err)
	locker := &deniedLocker{Adapter: cache}
	rec := &recorder{}
	m := NewManager(locker, rec, nil, Options{LockWait: 50 * time.Millisecond}, logging.Discard())
	defer m.Close()

	err = m.Join(ctx, "x", member("A", "alice", 0, false))
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, locker.attempts, 2)
	assert.Empty(t, m.State(ctx, "x").Members)
	assert.Empty(t, rec.events)
}

type persistFunc func(ctx context.Context, fileID, token string, scene reconcile.Scene) error

func (f persistFunc) Save(ctx context.Context, fileID, token string, scene reconcile.Scene) error {
	return f(ctx, fileID, token, scene)
}

func TestDrainSavesOutsideRoomLock(t *testing.T) {
	ctx := context.Background()
	cache, err := memory.New(memory.Options{Size: 100}, logging.Discard())
	require.NoError(t, err)
	locker := &countingLocker{Adapter: cache, held: map[string]bool{}}

	var heldDuringSave, saved bool
	persist := persistFunc(func(_ context.Context, fileID, _ string, _ reconcile.Scene) error {
		locker.mu.Lock()
		heldDuringSave = locker.held[storage.RoomLockKey(fileID)]
		locker.mu.Unlock()
		saved = true
		return nil
	})
	m := NewManager(locker, &recorder{}, persist, Options{Now: func() time.Time { return t0 }}, logging.Discard())
	defer m.Close()

	require.NoError(t, m.Join(ctx, "s", member("A", "alice", 0, false)))
	require.NoError(t, m.RecordScene(ctx, "s", "A", []byte(sceneMsg)))
	require.NoError(t, m.Leave(ctx, "s", "A", "a-token"))

	assert.True(t, saved)
	assert.False(t, heldDuringSave)
	_, ok := cache.Get(ctx, storage.RoomSceneKey("s"))
	assert.False(t, ok, "persisted scene is dropped")
	assert.Empty(t, locker.held)
}

func TestSameVersions(t *testing.T) {
	var a, b reconcile.Scene
	require.NoError(t, json.Unmarshal([]byte(`{"elements":[{"id":"e1","version":2,"versionNonce":7}]}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"elements":[{"id":"e1","version":2,"versionNonce":7}]}`), &b))
	assert.True(t, sameVersions(a, b))
	require.NoError(t, json.Unmarshal([]byte(`{"elements":[{"id":"e1","version":3,"versionNonce":7}]}`), &b))
	assert.False(t, sameVersions(a, b))
	assert.False(t, sameVersions(a, reconcile.Scene{}))
}

func TestSelectionRidesTheRoster(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newManager(t, nil)
	require.NoError(t, m.Join(ctx, "sel", member("A", "alice", 0, false)))
	require.NoError(t, m.Join(ctx, "sel", member("B", "bob", time.Second, false)))

	rec.reset()
	require.NoError(t, m.SetSelection(ctx, "sel", "A", json.RawMessage(`{"e1":true}`)))
	changes := rec.broadcasts(models.EventRoomUserChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "A", changes[0].except)
	roster := changes[0].args[0].([]models.RosterEntry)
	assert.JSONEq(t, `{"e1":true}`, string(roster[0].Selection))
	assert.Nil(t, roster[1].Selection)

	rec.reset()
	require.NoError(t, m.SetSelection(ctx, "sel", "A", json.RawMessage(`{"e1":true}`)))
	assert.Empty(t, rec.events, "same selection is a no-op")

	require.NoError(t, m.SetSelection(ctx, "sel", "A", json.RawMessage(`null`)))
	assert.Nil(t, m.State(ctx, "sel").Roster()[0].Selection)

	big := json.RawMessage(`"` + strings.Repeat("x", MaxSelection) + `"`)
	assert.ErrorIs(t, m.SetSelection(ctx, "sel", "A", big), ErrSelectionTooLarge)
	assert.ErrorIs(t, m.SetSelection(ctx, "sel", "Z", json.RawMessage(`{}`)), ErrNotMember)
}
