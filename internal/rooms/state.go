package rooms

import (
	"github.com/Vasu1712/scenyx-hub/internal/collab"
	"github.com/Vasu1712/scenyx-hub/internal/models"
)

// State is everything the hub knows about one room. It is stored as a single
// JSON value so every node sees the same membership and syncer.
type State struct {
	ID             string              `json:"id"`
	Members        []models.Member     `json:"members"`
	SyncerSocketID string              `json:"syncerSocketId,omitempty"`
	Presentation   collab.Presentation `json:"presentation"`
	Recording      collab.Recording    `json:"recording"`
	Timer          collab.Timer        `json:"timer"`
	Poll           collab.Poll         `json:"poll"`
	// SceneDirty is set when the snapshot changed since it was last persisted.
	SceneDirty bool `json:"sceneDirty,omitempty"`
}

func (s *State) member(socketID string) (models.Member, bool) {
	for _, m := range s.Members {
		if m.SocketID == socketID {
			return m, true
		}
	}
	return models.Member{}, false
}

// Has reports whether socketID is in the room.
func (s *State) Has(socketID string) bool {
	_, ok := s.member(socketID)
	return ok
}

func (s *State) remove(socketID string) (models.Member, bool) {
	for i, m := range s.Members {
		if m.SocketID == socketID {
			s.Members = append(s.Members[:i:i], s.Members[i+1:]...)
			return m, true
		}
	}
	return models.Member{}, false
}

func (s *State) upsert(m models.Member) {
	for i := range s.Members {
		if s.Members[i].SocketID == m.SocketID {
			s.Members[i] = m
			return
		}
	}
	s.Members = append(s.Members, m)
}

// Roster is the room-user-change payload, in join order.
func (s *State) Roster() []models.RosterEntry {
	out := make([]models.RosterEntry, 0, len(s.Members))
	for _, m := range s.Members {
		out = append(out, models.RosterEntry{
			SocketID:       m.SocketID,
			ID:             m.User.ID,
			Name:           m.User.Name,
			IsFileReadOnly: m.IsFileReadOnly,
			IsSyncer:       m.SocketID == s.SyncerSocketID,
			Selection:      m.Selection,
		})
	}
	return out
}

// Empty reports whether the room has no members left.
func (s *State) Empty() bool { return len(s.Members) == 0 }
