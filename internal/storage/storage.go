// Package storage defines the key/value contract shared by the session store
// and the room manager. Implementations live in storage/memory (single node)
// and storage/redis (cluster).
package storage

import (
	"context"
	"time"
)

// Adapter is a best-effort key/value store with per-key TTL.
//
// Implementations never surface transient failures: a failed Get reports a
// miss, a failed Set or Delete is logged and dropped. Callers treat a miss as
// "no data" and rely on the next natural write to repair state.
type Adapter interface {
	// Get returns the value and true, or nil and false on miss, expiry or failure.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// Locker is implemented by adapters whose backing store is shared between
// processes. The room manager takes the lock around every room mutation.
type Locker interface {
	// TryLock acquires key for ttl. It returns a release token, or false if
	// the lock is held elsewhere or the store is unreachable.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool)
	// Unlock releases key if token still owns it.
	Unlock(ctx context.Context, key, token string)
}

// Key helpers keep the keyspace layout in one place.

func SocketDataKey(socketID string) string { return "socket:" + socketID + ":data" }
func ConnectedAtKey(socketID string) string { return "socket:" + socketID + ":connectedAt" }
func FollowingKey(socketID string) string { return "socket:" + socketID + ":following" }
func RoomStateKey(roomID string) string { return "room:" + roomID + ":state" }
func RoomSceneKey(roomID string) string { return "room:" + roomID + ":scene" }
func RoomLockKey(roomID string) string { return "room:" + roomID + ":lock" }
