package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Vasu1712/scenyx-hub/internal/collab"
	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/models"
	roomstate "github.com/Vasu1712/scenyx-hub/internal/rooms"
)

// StateReader is the part of the room manager the inspection API reads.
type StateReader interface {
	State(ctx context.Context, roomID string) *roomstate.State
}

// NodeCounter reports what this node holds locally.
type NodeCounter interface {
	Local() (sockets, rooms int)
}

// RoomHandler serves the read-only HTTP side of the hub.
type RoomHandler struct {
	Rooms  StateReader
	Hub    NodeCounter
	NodeID string
	Log    *logging.Logger
	Now    func() time.Time
}

// RoomView is the GET /api/v1/rooms/{roomId} response.
type RoomView struct {
	RoomID            string               `json:"roomId"`
	Members           int                  `json:"members"`
	SyncerSocketID    string               `json:"syncerSocketId,omitempty"`
	Users             []models.RosterEntry `json:"users"`
	PresenterSocketID string               `json:"presenterSocketId,omitempty"`
	Recording         bool                 `json:"recording"`
	Timer             collab.TimerStatus   `json:"timer"`
	VotingID          string               `json:"votingId,omitempty"`
}

// GetRoom returns membership and activity of one room, 404 when it is empty.
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	st := h.Rooms.State(r.Context(), roomID)
	if st.Empty() {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	view := RoomView{
		RoomID:            roomID,
		Members:           len(st.Members),
		SyncerSocketID:    st.SyncerSocketID,
		Users:             st.Roster(),
		PresenterSocketID: st.Presentation.SocketID,
		Recording:         st.Recording.Status != collab.RecordingIdle,
		Timer:             st.Timer.View(now()).Status,
	}
	if st.Poll.Status == collab.PollOpen {
		view.VotingID = st.Poll.ID
	}
	h.writeJSON(w, http.StatusOK, view)
}

// Health reports liveness and this node's local load.
func (h *RoomHandler) Health(w http.ResponseWriter, r *http.Request) {
	sockets, open := h.Hub.Local()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"node":    h.NodeID,
		"sockets": sockets,
		"rooms":   open,
	})
}

func (h *RoomHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Warnf("writing response: %v", err)
	}
}
