// Package session keeps per-socket metadata in a storage.Adapter so every node
// sharing the adapter can resolve a socket id to its user and permissions.
//
// All keys are scoped by socket id. Socket ids are random per connection and
// never reused, so two sessions can never read each other's keys. Every key
// carries a TTL: if a process dies before ClearSocketMeta runs, the keys
// expire on their own.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/models"
	"github.com/Vasu1712/scenyx-hub/internal/storage"
)

// Store is the session store. The zero value is not usable; call NewStore.
type Store struct {
	adapter storage.Adapter
	ttl     time.Duration
	log     *logging.Logger
}

// NewStore returns a Store writing keys with the given ttl.
func NewStore(adapter storage.Adapter, ttl time.Duration, log *logging.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{adapter: adapter, ttl: ttl, log: log.With("Session")}
}

// GetSocketData returns the session record, or nil when unknown or unreadable.
func (s *Store) GetSocketData(ctx context.Context, socketID string) *models.Session {
	raw, ok := s.adapter.Get(ctx, storage.SocketDataKey(socketID))
	if !ok {
		return nil
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.log.Warnf("discarding corrupt session for %s: %v", socketID, err)
		return nil
	}
	return &sess
}

func (s *Store) SetSocketData(ctx context.Context, sess models.Session) {
	raw, err := json.Marshal(sess)
	if err != nil {
		s.log.Errorf("encode session %s: %v", sess.SocketID, err)
		return
	}
	s.adapter.Set(ctx, storage.SocketDataKey(sess.SocketID), raw, s.ttl)
}

func (s *Store) DeleteSocketData(ctx context.Context, socketID string) {
	s.adapter.Delete(ctx, storage.SocketDataKey(socketID))
}

func (s *Store) SetConnectedAt(ctx context.Context, socketID string, at time.Time) {
	s.adapter.Set(ctx, storage.ConnectedAtKey(socketID), []byte(at.UTC().Format(time.RFC3339Nano)), s.ttl)
}

// GetConnectedAt returns the zero time when unknown.
func (s *Store) GetConnectedAt(ctx context.Context, socketID string) time.Time {
	raw, ok := s.adapter.Get(ctx, storage.ConnectedAtKey(socketID))
	if !ok {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}
	}
	return at
}

func (s *Store) ClearConnectedAt(ctx context.Context, socketID string) {
	s.adapter.Delete(ctx, storage.ConnectedAtKey(socketID))
}

// SetFollowing records that socketID is following userID's viewport.
func (s *Store) SetFollowing(ctx context.Context, socketID, userID string) {
	s.adapter.Set(ctx, storage.FollowingKey(socketID), []byte(userID), s.ttl)
}

// GetFollowing returns "" when the socket follows nobody.
func (s *Store) GetFollowing(ctx context.Context, socketID string) string {
	raw, ok := s.adapter.Get(ctx, storage.FollowingKey(socketID))
	if !ok {
		return ""
	}
	return string(raw)
}

func (s *Store) ClearFollowing(ctx context.Context, socketID string) {
	s.adapter.Delete(ctx, storage.FollowingKey(socketID))
}

// ClearSocketMeta removes every key of socketID. It is safe to call more than once.
func (s *Store) ClearSocketMeta(ctx context.Context, socketID string) {
	s.ClearFollowing(ctx, socketID)
	s.ClearConnectedAt(ctx, socketID)
	s.DeleteSocketData(ctx, socketID)
}

// GetUser returns the user behind socketID.
func (s *Store) GetUser(ctx context.Context, socketID string) (models.User, bool) {
	sess := s.GetSocketData(ctx, socketID)
	if sess == nil {
		return models.User{}, false
	}
	return sess.User, true
}

// IsReadOnly reports the read-only flag. Unknown sockets are read-only.
func (s *Store) IsReadOnly(ctx context.Context, socketID string) bool {
	sess := s.GetSocketData(ctx, socketID)
	return sess == nil || sess.IsFileReadOnly
}
