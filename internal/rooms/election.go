package rooms

import "github.com/Vasu1712/scenyx-hub/internal/models"

// Elect picks the syncer for members. The current syncer keeps the role while
// it is present and eligible; otherwise the earliest-connected eligible member
// wins, socket id breaking ties. It returns "" when nobody is eligible.
func Elect(members []models.Member, current string) string {
	var best *models.Member
	for i := range members {
		m := &members[i]
		if !m.Eligible() {
			continue
		}
		if m.SocketID == current {
			return current
		}
		if best == nil || earlier(*m, *best) {
			best = m
		}
	}
	if best == nil {
		return ""
	}
	return best.SocketID
}

func earlier(a, b models.Member) bool {
	if !a.ConnectedAt.Equal(b.ConnectedAt) {
		return a.ConnectedAt.Before(b.ConnectedAt)
	}
	return a.SocketID < b.SocketID
}
