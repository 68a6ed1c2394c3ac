package collab

import (
	"time"

	"github.com/Vasu1712/scenyx-hub/internal/models"
)

// Presentation is idle until one member presents.
type Presentation struct {
	SocketID  string      `json:"socketId,omitempty"`
	Presenter models.User `json:"presenter"`
	StartedAt time.Time   `json:"startedAt,omitempty"`
}

func (p *Presentation) Active() bool { return p.SocketID != "" }

// Start makes socketID the presenter. Restarting by the same socket is a no-op.
func (p *Presentation) Start(socketID string, user models.User, now time.Time) error {
	if p.Active() {
		if p.SocketID == socketID {
			return nil
		}
		return ErrBusy
	}
	*p = Presentation{SocketID: socketID, Presenter: user, StartedAt: now}
	return nil
}

// Stop ends the presentation if socketID is presenting.
func (p *Presentation) Stop(socketID string) error {
	if !p.Active() {
		return ErrInvalidTransition
	}
	if p.SocketID != socketID {
		return ErrNotOwner
	}
	*p = Presentation{}
	return nil
}

// Abandon ends the presentation when its presenter goes away.
func (p *Presentation) Abandon(socketID string) (models.User, bool) {
	if !p.Active() || p.SocketID != socketID {
		return models.User{}, false
	}
	user := p.Presenter
	*p = Presentation{}
	return user, true
}
