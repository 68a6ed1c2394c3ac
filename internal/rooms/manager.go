// Package rooms tracks room membership and runs the syncer election.
//
// Every mutation of a room goes through that room's actor, a goroutine that
// drains a mailbox of operations one at a time. An actor exists only while
// operations for its room are queued. When the adapter is shared between
// processes it also implements storage.Locker and each operation additionally
// holds the room lock, so joins on different nodes cannot both win an empty
// room. An operation that cannot get the lock fails with ErrLockTimeout and
// changes nothing.
//
// With a private adapter, room state lives in the manager's own store rather
// than the adapter, which may evict under session pressure.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/reconcile"
	"github.com/Vasu1712/scenyx-hub/internal/storage"
)

const (
	mailboxSize = 64
	lockRetry   = 25 * time.Millisecond
)

var (
	ErrClosed      = errors.New("room manager closed")
	ErrLockTimeout = errors.New("room lock not acquired")
)

// Emitter delivers events to sockets on whichever node holds them.
type Emitter interface {
	ToSocket(ctx context.Context, roomID, socketID, event string, args ...any)
	// ToRoom sends to every member of roomID except the socket named by except.
	ToRoom(ctx context.Context, roomID, except, event string, args ...any)
}

// Persister writes a drained room's scene back to the document store.
type Persister interface {
	Save(ctx context.Context, fileID, token string, scene reconcile.Scene) error
}

// Persisters saves to every element. All are attempted; failures are joined.
type Persisters []Persister

func (ps Persisters) Save(ctx context.Context, fileID, token string, scene reconcile.Scene) error {
	var errs []error
	for _, p := range ps {
		if err := p.Save(ctx, fileID, token, scene); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Options struct {
	NodeID   string
	RoomTTL  time.Duration
	LockTTL  time.Duration
	LockWait time.Duration
	Now      func() time.Time
}

type Manager struct {
	store   storage.Adapter // room state and scenes
	locker  storage.Locker
	emit    Emitter
	persist Persister
	opts    Options
	log     *logging.Logger

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup
}

type actor struct {
	roomID  string
	mailbox chan func()
	pending int
}

// NewManager builds a manager over adapter. persist may be nil, in which case
// drained rooms simply let their scene expire.
func NewManager(adapter storage.Adapter, emit Emitter, persist Persister, opts Options, log *logging.Logger) *Manager {
	if opts.RoomTTL <= 0 {
		opts.RoomTTL = 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var store storage.Adapter = newLocalStore(opts.Now)
	locker, shared := adapter.(storage.Locker)
	if shared {
		store = adapter
	}
	return &Manager{
		store:   store,
		locker:  locker,
		emit:    emit,
		persist: persist,
		opts:    opts,
		log:     log.With("Rooms"),
		actors:  make(map[string]*actor),
	}
}

// Close stops accepting operations and waits for queued ones to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

// Active returns the number of rooms with queued operations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Update runs fn against roomID's state inside the room's actor. State and
// scene changes made through tx are saved before any queued event is sent.
func (m *Manager) Update(ctx context.Context, roomID string, fn func(tx *Txn) error) error {
	a, err := m.acquire(roomID)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	a.mailbox <- func() { done <- m.apply(ctx, roomID, fn) }
	return <-done
}

func (m *Manager) acquire(roomID string) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	a, ok := m.actors[roomID]
	if !ok {
		a = &actor{roomID: roomID, mailbox: make(chan func(), mailboxSize)}
		m.actors[roomID] = a
		m.wg.Add(1)
		go m.run(a)
	}
	a.pending++
	return a, nil
}

func (m *Manager) run(a *actor) {
	defer m.wg.Done()
	for op := range a.mailbox {
		op()
		if m.retire(a) {
			return
		}
	}
}

// retire drops the actor once nothing is queued for it. Callers increment
// pending under the same lock before sending, so no op can be stranded.
func (m *Manager) retire(a *actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.pending--
	if a.pending > 0 {
		return false
	}
	delete(m.actors, a.roomID)
	return true
}

func (m *Manager) apply(ctx context.Context, roomID string, fn func(tx *Txn) error) error {
	tx, err := m.transact(ctx, roomID, fn)
	if tx != nil && tx.save != nil {
		m.persistDrained(ctx, roomID, tx.save)
	}
	return err
}

// transact runs fn under the room lock and commits its changes. It returns a
// nil Txn when fn never ran.
func (m *Manager) transact(ctx context.Context, roomID string, fn func(tx *Txn) error) (*Txn, error) {
	if m.locker != nil {
		key := storage.RoomLockKey(roomID)
		token, err := m.lock(ctx, key)
		if err != nil {
			m.log.Warnf("room %s: %v", roomID, err)
			return nil, fmt.Errorf("room %s: %w", roomID, err)
		}
		defer m.locker.Unlock(context.WithoutCancel(ctx), key, token)
	}

	tx := &Txn{ctx: ctx, m: m, roomID: roomID, State: m.load(ctx, roomID), Now: m.opts.Now()}
	err := fn(tx)
	m.commit(tx)
	return tx, err
}

// persistDrained writes a drained room's scene out after the room lock is
// released, then drops the cached copy unless the room has moved on since.
func (m *Manager) persistDrained(ctx context.Context, roomID string, save *drainedScene) {
	if err := m.persist.Save(ctx, roomID, save.token, save.scene); err != nil {
		m.log.Warnf("room %s: persisting scene: %v", roomID, err)
		return
	}
	_, err := m.transact(ctx, roomID, func(tx *Txn) error {
		if !tx.State.Empty() || !sameVersions(*tx.Scene(), save.scene) {
			m.log.Debugf("room %s: changed while persisting, keeping scene", roomID)
			return nil
		}
		tx.dropScene = true
		return nil
	})
	if err != nil {
		m.log.Warnf("room %s: dropping persisted scene: %v", roomID, err)
	}
}

// sameVersions reports whether a and b hold the same element versions.
func sameVersions(a, b reconcile.Scene) bool {
	if len(a.Elements) != len(b.Elements) {
		return false
	}
	byID := reconcile.ByID(b.Elements)
	for _, el := range a.Elements {
		other, ok := byID[el.ID]
		if !ok || other.Version != el.Version || other.VersionNonce != el.VersionNonce {
			return false
		}
	}
	return true
}

func (m *Manager) lock(ctx context.Context, key string) (string, error) {
	deadline := time.Now().Add(m.opts.LockWait)
	for {
		if token, ok := m.locker.TryLock(ctx, key, m.opts.LockTTL); ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

func (m *Manager) load(ctx context.Context, roomID string) *State {
	st := &State{ID: roomID}
	raw, ok := m.store.Get(ctx, storage.RoomStateKey(roomID))
	if !ok {
		return st
	}
	if err := json.Unmarshal(raw, st); err != nil {
		m.log.Warnf("room %s: discarding unreadable state: %v", roomID, err)
		return &State{ID: roomID}
	}
	st.ID = roomID
	return st
}

func (m *Manager) commit(tx *Txn) {
	ctx, roomID := tx.ctx, tx.roomID
	switch {
	case tx.dropScene:
		m.store.Delete(ctx, storage.RoomSceneKey(roomID))
	case tx.sceneDirty:
		if raw, err := json.Marshal(tx.scene); err != nil {
			m.log.Errorf("room %s: encoding scene: %v", roomID, err)
		} else {
			m.store.Set(ctx, storage.RoomSceneKey(roomID), raw, m.opts.RoomTTL)
		}
	}
	if tx.dirty {
		if tx.State.Empty() {
			m.store.Delete(ctx, storage.RoomStateKey(roomID))
		} else if raw, err := json.Marshal(tx.State); err != nil {
			m.log.Errorf("room %s: encoding state: %v", roomID, err)
		} else {
			m.store.Set(ctx, storage.RoomStateKey(roomID), raw, m.opts.RoomTTL)
		}
	}
	for _, e := range tx.out {
		if e.socketID != "" {
			m.emit.ToSocket(ctx, roomID, e.socketID, e.event, e.args...)
		} else {
			m.emit.ToRoom(ctx, roomID, e.except, e.event, e.args...)
		}
	}
}

// State returns a snapshot of roomID. It reads outside the actor and may be
// stale by the time the caller looks at it.
func (m *Manager) State(ctx context.Context, roomID string) *State {
	return m.load(ctx, roomID)
}

// Scene returns the last known snapshot of roomID.
func (m *Manager) Scene(ctx context.Context, roomID string) (reconcile.Scene, bool) {
	return m.loadScene(ctx, roomID)
}

func (m *Manager) loadScene(ctx context.Context, roomID string) (reconcile.Scene, bool) {
	raw, ok := m.store.Get(ctx, storage.RoomSceneKey(roomID))
	if !ok {
		return reconcile.Scene{}, false
	}
	var scene reconcile.Scene
	if err := json.Unmarshal(raw, &scene); err != nil {
		m.log.Warnf("room %s: discarding unreadable scene: %v", roomID, err)
		return reconcile.Scene{}, false
	}
	return scene, true
}

type drainedScene struct {
	token string
	scene reconcile.Scene
}

type emission struct {
	socketID string
	except   string
	event    string
	args     []any
}

// Txn is one operation's view of a room. Events queued on it are sent after
// the state is saved.
type Txn struct {
	ctx    context.Context
	m      *Manager
	roomID string

	State *State
	Now   time.Time

	scene      *reconcile.Scene
	sceneDirty bool
	dropScene  bool
	dirty      bool
	save       *drainedScene
	out        []emission
}

func (tx *Txn) Context() context.Context { return tx.ctx }

// Touch marks the state for saving.
func (tx *Txn) Touch() { tx.dirty = true }

// Scene loads the room snapshot on first use.
func (tx *Txn) Scene() *reconcile.Scene {
	if tx.scene == nil {
		scene, _ := tx.m.loadScene(tx.ctx, tx.roomID)
		tx.scene = &scene
	}
	return tx.scene
}

func (tx *Txn) ToSocket(socketID, event string, args ...any) {
	tx.out = append(tx.out, emission{socketID: socketID, event: event, args: args})
}

func (tx *Txn) ToRoom(except, event string, args ...any) {
	tx.out = append(tx.out, emission{except: except, event: event, args: args})
}
