package models

import "time"

// User is the identity carried by a token.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is the per-socket record kept in the session store so any node can
// answer who a socket belongs to and whether it may write.
type Session struct {
	SocketID        string    `json:"socketId"`
	User            User      `json:"user"`
	RoomID          string    `json:"roomId,omitempty"`
	IsFileReadOnly  bool      `json:"isFileReadOnly"`
	ConnectedAt     time.Time `json:"connectedAt"`
	FollowingUserID string    `json:"followingUserId,omitempty"`
}
