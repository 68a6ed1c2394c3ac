package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/Vasu1712/scenyx-hub/internal/collab"
	"github.com/Vasu1712/scenyx-hub/internal/models"
	"github.com/Vasu1712/scenyx-hub/internal/reconcile"
)

// Join adds member to roomID, re-running the election. Rejoining with the
// same socket id replaces the previous record.
func (m *Manager) Join(ctx context.Context, roomID string, member models.Member) error {
	if member.NodeID == "" {
		member.NodeID = m.opts.NodeID
	}
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		prev := st.SyncerSocketID
		st.upsert(member)
		st.SyncerSocketID = Elect(st.Members, prev)
		tx.Touch()

		if scene := tx.Scene(); len(scene.Elements) > 0 || len(scene.Files) > 0 {
			tx.ToSocket(member.SocketID, models.EventJoinedData, scene)
		}
		tx.ToRoom("", models.EventRoomUserChange, st.Roster())
		tx.ToRoom(member.SocketID, models.EventUserJoined, models.UserJoined{
			UserID:   member.User.ID,
			UserName: member.User.Name,
			SocketID: member.SocketID,
			IsSyncer: member.SocketID == st.SyncerSocketID,
		})
		if st.SyncerSocketID != prev {
			tx.designate(prev)
		} else {
			tx.ToSocket(member.SocketID, models.EventSyncDesignate, models.SyncDesignate{IsSyncer: member.SocketID == st.SyncerSocketID})
		}
		tx.catchUp(member.SocketID)
		m.log.Infof("%s joined room %s (members=%d syncer=%s)", member.SocketID, roomID, len(st.Members), st.SyncerSocketID)
		return nil
	})
}

// Leave removes socketID from roomID. Leaving a room the socket is not in is
// a no-op. token is the leaver's bearer token, used to persist the scene when
// the room drains.
func (m *Manager) Leave(ctx context.Context, roomID, socketID, token string) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		left, ok := st.remove(socketID)
		if !ok {
			return nil
		}
		tx.Touch()

		if user, ok := st.Presentation.Abandon(socketID); ok {
			tx.ToRoom("", models.EventUserStoppedPresenting, models.UserActivity{UserID: user.ID, UserName: user.Name})
		}
		if rec, ok := st.Recording.Abandon(socketID); ok {
			tx.ToRoom("", models.EventUserStoppedRecording, models.UserActivity{UserID: rec.User.ID, UserName: rec.User.Name})
		}

		if st.Empty() {
			m.drain(tx, left, token)
			m.log.Infof("room %s drained", roomID)
			return nil
		}

		prev := st.SyncerSocketID
		st.SyncerSocketID = Elect(st.Members, prev)
		tx.ToRoom("", models.EventRoomUserChange, st.Roster())
		if st.SyncerSocketID != prev {
			tx.designate(prev)
		}
		m.log.Infof("%s left room %s (members=%d syncer=%s)", socketID, roomID, len(st.Members), st.SyncerSocketID)
		return nil
	})
}

// drain runs when the last member leaves. The room state goes away with the
// membership; the scene is queued for the document store when it has unsaved
// changes and the leaver could write it, and otherwise left to expire. The
// write itself happens once the room lock is released.
func (m *Manager) drain(tx *Txn, last models.Member, token string) {
	st := tx.State
	if !st.SceneDirty {
		tx.dropScene = true
		return
	}
	if m.persist == nil || token == "" || !last.Eligible() {
		m.log.Debugf("room %s: scene kept until expiry", st.ID)
		return
	}
	tx.save = &drainedScene{token: token, scene: *tx.Scene()}
}

// UpdateMember replaces socketID's identity after a token refresh and
// re-runs the election, since write permission may have changed.
func (m *Manager) UpdateMember(ctx context.Context, roomID, socketID string, user models.User, readOnly bool) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return nil
		}
		if member.User == user && member.IsFileReadOnly == readOnly {
			return nil
		}
		member.User = user
		member.IsFileReadOnly = readOnly
		st.upsert(member)
		tx.Touch()

		prev := st.SyncerSocketID
		st.SyncerSocketID = Elect(st.Members, prev)
		tx.ToRoom("", models.EventRoomUserChange, st.Roster())
		if st.SyncerSocketID != prev {
			tx.designate(prev)
		}
		return nil
	})
}

// MaxSelection bounds a stored selection so one client cannot bloat the room.
const MaxSelection = 16 << 10

var ErrSelectionTooLarge = errors.New("selection too large")

// SetSelection stores socketID's selection and sends the roster to the other
// members. An empty selection clears it.
func (m *Manager) SetSelection(ctx context.Context, roomID, socketID string, selection json.RawMessage) error {
	if len(selection) > MaxSelection {
		return ErrSelectionTooLarge
	}
	if string(selection) == "null" {
		selection = nil
	}
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return ErrNotMember
		}
		if bytes.Equal(member.Selection, selection) {
			return nil
		}
		member.Selection = append(json.RawMessage(nil), selection...)
		st.upsert(member)
		tx.Touch()
		tx.ToRoom(socketID, models.EventRoomUserChange, st.Roster())
		return nil
	})
}

// RecordScene folds a relayed scene message from socketID into the room
// snapshot. Messages the hub cannot read are ignored.
func (m *Manager) RecordScene(ctx context.Context, roomID, socketID string, payload []byte) error {
	update, ok := reconcile.ParseSceneMessage(payload)
	if !ok {
		return nil
	}
	return m.Update(ctx, roomID, func(tx *Txn) error {
		member, ok := tx.State.member(socketID)
		if !ok || !member.Eligible() {
			return nil
		}
		if tx.Scene().Apply(update) {
			tx.sceneDirty = true
			if !tx.State.SceneDirty {
				tx.State.SceneDirty = true
				tx.Touch()
			}
		}
		return nil
	})
}

// designate tells every member whether it holds the syncer role. prev is the
// syncer before the election; when nobody is eligible only prev needs telling.
func (tx *Txn) designate(prev string) {
	st := tx.State
	if st.SyncerSocketID == "" {
		if st.Has(prev) {
			tx.ToSocket(prev, models.EventSyncDesignate, models.SyncDesignate{IsSyncer: false})
		}
		return
	}
	for _, mem := range st.Members {
		tx.ToSocket(mem.SocketID, models.EventSyncDesignate, models.SyncDesignate{IsSyncer: mem.SocketID == st.SyncerSocketID})
	}
}

// catchUp replays ongoing room activity to a late joiner.
func (tx *Txn) catchUp(socketID string) {
	st := tx.State
	if st.Presentation.Active() && st.Presentation.SocketID != socketID {
		p := st.Presentation
		tx.ToSocket(socketID, models.EventUserStartedPresenting, models.UserActivity{UserID: p.Presenter.ID, UserName: p.Presenter.Name, SocketID: p.SocketID})
	}
	if st.Recording.Status == collab.RecordingActive && st.Recording.SocketID != socketID {
		r := st.Recording
		tx.ToSocket(socketID, models.EventUserStartedRecording, models.UserActivity{UserID: r.User.ID, UserName: r.User.Name})
	}
	if view := st.Timer.View(tx.Now); view.Status != collab.TimerIdle {
		tx.ToSocket(socketID, models.EventTimerState, view)
	}
	if st.Poll.Status == collab.PollOpen {
		tx.ToSocket(socketID, models.EventVotingStarted, st.Poll)
	}
}
