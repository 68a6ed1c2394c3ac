package collab

import "github.com/Vasu1712/scenyx-hub/internal/models"

type PollStatus string

const (
	PollNone   PollStatus = ""
	PollOpen   PollStatus = "open"
	PollClosed PollStatus = "closed"
)

// Poll is a room vote. open -> closed.
//
// Votes are counted as relayed. One vote per user is a client-side rule; the
// hub does not deduplicate.
type Poll struct {
	ID        string         `json:"votingId,omitempty"`
	Question  string         `json:"question,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Status    PollStatus     `json:"status,omitempty"`
	StartedBy models.User    `json:"startedBy"`
	Tally     map[string]int `json:"tally,omitempty"`
}

// Start opens a new poll. A closed poll may be replaced.
func (p *Poll) Start(id, question string, options []string, by models.User) error {
	if p.Status == PollOpen {
		return ErrBusy
	}
	if id == "" {
		return ErrInvalidTransition
	}
	*p = Poll{ID: id, Question: question, Options: options, Status: PollOpen, StartedBy: by, Tally: map[string]int{}}
	return nil
}

// Vote records a vote for option on poll id.
func (p *Poll) Vote(id, option string) error {
	if p.Status != PollOpen || p.ID != id {
		return ErrClosed
	}
	if p.Tally == nil {
		p.Tally = map[string]int{}
	}
	p.Tally[option]++
	return nil
}

// End closes poll id.
func (p *Poll) End(id string) error {
	if p.Status != PollOpen || p.ID != id {
		return ErrClosed
	}
	p.Status = PollClosed
	return nil
}
