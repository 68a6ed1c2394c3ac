package models

import (
	"encoding/json"
	"time"
)

// Member is one socket's membership in a room.
type Member struct {
	SocketID       string    `json:"socketId"`
	User           User      `json:"user"`
	IsFileReadOnly bool      `json:"isFileReadOnly"`
	ConnectedAt    time.Time `json:"connectedAt"`
	NodeID         string    `json:"nodeId,omitempty"`
	// Selection is whatever the client last reported as selected. The hub
	// stores and repeats it without looking inside.
	Selection json.RawMessage `json:"selection,omitempty"`
}

// Eligible reports whether the member may hold the syncer role.
func (m Member) Eligible() bool { return !m.IsFileReadOnly }

// RosterEntry is what room-user-change exposes for each member.
type RosterEntry struct {
	SocketID       string `json:"socketId"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	IsFileReadOnly bool   `json:"isFileReadOnly"`
	IsSyncer       bool   `json:"isSyncer"`

	Selection json.RawMessage `json:"selection,omitempty"`
}

// UserJoined is the payload of user-joined.
type UserJoined struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	SocketID string `json:"socketId"`
	IsSyncer bool   `json:"isSyncer"`
}

// SyncDesignate is the payload of sync-designate.
type SyncDesignate struct {
	IsSyncer bool `json:"isSyncer"`
}
