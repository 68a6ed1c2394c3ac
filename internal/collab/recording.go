package collab

import (
	"time"

	"github.com/Vasu1712/scenyx-hub/internal/models"
)

type RecordingStatus string

const (
	RecordingIdle     RecordingStatus = ""
	RecordingStarting RecordingStatus = "starting"
	RecordingActive   RecordingStatus = "recording"
	RecordingStopping RecordingStatus = "stopping"
)

// Recording tracks who is recording the room.
// idle -> starting -> recording -> stopping -> idle.
type Recording struct {
	Status       RecordingStatus `json:"status,omitempty"`
	SocketID     string          `json:"socketId,omitempty"`
	User         models.User     `json:"user"`
	FileID       string          `json:"fileId,omitempty"`
	RecordingURL string          `json:"recordingUrl,omitempty"`
	UploadToken  string          `json:"uploadToken,omitempty"`
	StartedAt    time.Time       `json:"startedAt,omitempty"`
}

// RecordingRequest is the payload of start-recording.
type RecordingRequest struct {
	FileID       string `json:"fileId"`
	RecordingURL string `json:"recordingUrl"`
	UploadToken  string `json:"uploadToken"`
}

// Start moves idle -> starting.
func (r *Recording) Start(socketID string, user models.User, req RecordingRequest, now time.Time) error {
	if r.Status != RecordingIdle {
		return ErrBusy
	}
	*r = Recording{
		Status:       RecordingStarting,
		SocketID:     socketID,
		User:         user,
		FileID:       req.FileID,
		RecordingURL: req.RecordingURL,
		UploadToken:  req.UploadToken,
		StartedAt:    now,
	}
	return nil
}

// Confirm moves starting -> recording.
func (r *Recording) Confirm() error {
	if r.Status != RecordingStarting {
		return ErrInvalidTransition
	}
	r.Status = RecordingActive
	return nil
}

// Stop moves starting|recording -> stopping for the socket that started it.
func (r *Recording) Stop(socketID string) error {
	if r.Status != RecordingStarting && r.Status != RecordingActive {
		return ErrInvalidTransition
	}
	if r.SocketID != socketID {
		return ErrNotOwner
	}
	r.Status = RecordingStopping
	return nil
}

// Finish moves stopping -> idle and returns the finished recording so its
// upload token can be handed to the recorder.
func (r *Recording) Finish() (Recording, error) {
	if r.Status != RecordingStopping {
		return Recording{}, ErrInvalidTransition
	}
	done := *r
	*r = Recording{}
	return done, nil
}

// Abandon resets the recording if socketID owns it, e.g. on disconnect.
func (r *Recording) Abandon(socketID string) (Recording, bool) {
	if r.Status == RecordingIdle || r.SocketID != socketID {
		return Recording{}, false
	}
	done := *r
	*r = Recording{}
	return done, true
}
