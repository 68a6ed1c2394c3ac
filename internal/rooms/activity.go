package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/Vasu1712/scenyx-hub/internal/collab"
	"github.com/Vasu1712/scenyx-hub/internal/models"
)

var (
	ErrNotMember = errors.New("not a member of this room")
	ErrReadOnly  = errors.New("read-only session")
)

// RecordingStopped is the recording-stopped payload handed to the recorder.
type RecordingStopped struct {
	FileID       string `json:"fileId"`
	RecordingURL string `json:"recordingUrl,omitempty"`
	UploadToken  string `json:"uploadToken,omitempty"`
}

// FileEvent is the payload of recording-started and presentation-started/-stopped.
type FileEvent struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId,omitempty"`
}

// VoteCast is the voting-voted payload.
type VoteCast struct {
	VotingID string `json:"votingId"`
	Option   string `json:"option"`
	UserID   string `json:"userId"`
}

// PollClosed is the voting-ended payload.
type PollClosed struct {
	VotingID string         `json:"votingId"`
	Tally    map[string]int `json:"tally"`
}

// TimerAction is one of the timer-* client events.
type TimerAction struct {
	Event    string
	Duration time.Duration
}

// fail queues event to socketID with err as the message.
func (tx *Txn) fail(socketID, event string, err error) error {
	tx.ToSocket(socketID, event, models.ErrorMessage{Message: err.Error()})
	return err
}

// StartRecording makes socketID the room's recorder. There is no separate
// acknowledgement from the recording agent, so the recording is confirmed at
// once.
func (m *Manager) StartRecording(ctx context.Context, roomID, socketID string, req collab.RecordingRequest) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return tx.fail(socketID, models.EventRecordingError, ErrNotMember)
		}
		if req.FileID == "" {
			req.FileID = roomID
		}
		if err := st.Recording.Start(socketID, member.User, req, tx.Now); err != nil {
			return tx.fail(socketID, models.EventRecordingError, err)
		}
		_ = st.Recording.Confirm()
		tx.Touch()
		tx.ToSocket(socketID, models.EventRecordingStarted, FileEvent{FileID: req.FileID, UserID: member.User.ID})
		tx.ToRoom(socketID, models.EventUserStartedRecording, models.UserActivity{UserID: member.User.ID, UserName: member.User.Name})
		return nil
	})
}

// StopRecording ends socketID's recording and hands the upload details back.
func (m *Manager) StopRecording(ctx context.Context, roomID, socketID string) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		if err := st.Recording.Stop(socketID); err != nil {
			return tx.fail(socketID, models.EventRecordingError, err)
		}
		done, err := st.Recording.Finish()
		if err != nil {
			return tx.fail(socketID, models.EventRecordingError, err)
		}
		tx.Touch()
		tx.ToSocket(socketID, models.EventRecordingStopped, RecordingStopped{
			FileID:       done.FileID,
			RecordingURL: done.RecordingURL,
			UploadToken:  done.UploadToken,
		})
		tx.ToRoom(socketID, models.EventUserStoppedRecording, models.UserActivity{UserID: done.User.ID, UserName: done.User.Name})
		return nil
	})
}

func (m *Manager) StartPresentation(ctx context.Context, roomID, socketID string) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return tx.fail(socketID, models.EventPresentationError, ErrNotMember)
		}
		already := st.Presentation.SocketID == socketID
		if err := st.Presentation.Start(socketID, member.User, tx.Now); err != nil {
			return tx.fail(socketID, models.EventPresentationError, err)
		}
		tx.ToSocket(socketID, models.EventPresentationStarted, FileEvent{FileID: roomID, UserID: member.User.ID})
		if already {
			return nil
		}
		tx.Touch()
		tx.ToRoom(socketID, models.EventUserStartedPresenting, models.UserActivity{UserID: member.User.ID, UserName: member.User.Name, SocketID: socketID})
		return nil
	})
}

func (m *Manager) StopPresentation(ctx context.Context, roomID, socketID string) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		presenter := st.Presentation.Presenter
		if err := st.Presentation.Stop(socketID); err != nil {
			return tx.fail(socketID, models.EventPresentationError, err)
		}
		tx.Touch()
		tx.ToSocket(socketID, models.EventPresentationStopped, FileEvent{FileID: roomID, UserID: presenter.ID})
		tx.ToRoom(socketID, models.EventUserStoppedPresenting, models.UserActivity{UserID: presenter.ID, UserName: presenter.Name})
		return nil
	})
}

// Presenter returns the presenting socket of roomID, if any.
func (m *Manager) Presenter(ctx context.Context, roomID string) (string, bool) {
	st := m.State(ctx, roomID)
	return st.Presentation.SocketID, st.Presentation.Active()
}

// Timer applies a timer-* action from socketID and pushes the resulting state
// to the whole room.
func (m *Manager) Timer(ctx context.Context, roomID, socketID string, action TimerAction) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return tx.fail(socketID, models.EventTimerError, ErrNotMember)
		}
		if !member.Eligible() {
			return tx.fail(socketID, models.EventTimerError, ErrReadOnly)
		}
		var err error
		switch action.Event {
		case models.EventTimerStart:
			err = st.Timer.Start(member.User, action.Duration, tx.Now)
		case models.EventTimerPause:
			err = st.Timer.Pause(tx.Now)
		case models.EventTimerResume:
			err = st.Timer.Resume(tx.Now)
		case models.EventTimerReset:
			st.Timer.Reset()
		case models.EventTimerExtend:
			err = st.Timer.Extend(action.Duration, tx.Now)
		default:
			err = collab.ErrInvalidTransition
		}
		if err != nil {
			return tx.fail(socketID, models.EventTimerError, err)
		}
		tx.Touch()
		tx.ToRoom("", models.EventTimerState, st.Timer.View(tx.Now))
		return nil
	})
}

func (m *Manager) StartVoting(ctx context.Context, roomID, socketID, votingID, question string, options []string) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return tx.fail(socketID, models.EventVotingError, ErrNotMember)
		}
		if !member.Eligible() {
			return tx.fail(socketID, models.EventVotingError, ErrReadOnly)
		}
		if err := st.Poll.Start(votingID, question, options, member.User); err != nil {
			return tx.fail(socketID, models.EventVotingError, err)
		}
		tx.Touch()
		tx.ToRoom(socketID, models.EventVotingStarted, st.Poll)
		return nil
	})
}

// Vote is open to every member, read-only ones included.
func (m *Manager) Vote(ctx context.Context, roomID, socketID, votingID, option string) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return tx.fail(socketID, models.EventVotingError, ErrNotMember)
		}
		if err := st.Poll.Vote(votingID, option); err != nil {
			return tx.fail(socketID, models.EventVotingError, err)
		}
		tx.Touch()
		tx.ToRoom(socketID, models.EventVotingVoted, VoteCast{VotingID: votingID, Option: option, UserID: member.User.ID})
		return nil
	})
}

func (m *Manager) EndVoting(ctx context.Context, roomID, socketID, votingID string) error {
	return m.Update(ctx, roomID, func(tx *Txn) error {
		st := tx.State
		member, ok := st.member(socketID)
		if !ok {
			return tx.fail(socketID, models.EventVotingError, ErrNotMember)
		}
		if !member.Eligible() {
			return tx.fail(socketID, models.EventVotingError, ErrReadOnly)
		}
		if err := st.Poll.End(votingID); err != nil {
			return tx.fail(socketID, models.EventVotingError, err)
		}
		tx.Touch()
		tx.ToRoom(socketID, models.EventVotingEnded, PollClosed{VotingID: votingID, Tally: st.Poll.Tally})
		return nil
	})
}
