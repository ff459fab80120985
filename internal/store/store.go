// Package store provides the replicated key-value store the channels live
// in. The interface mirrors what the rest of the system needs from the
// external collaborator: live push-based subscriptions, atomic creates with
// store-assigned keys, subtree deletes, and server-enforced cleanup on
// disconnect. MemoryStore implements it in-process; RedisStore backs it with
// Redis for real deployments.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is the full child set under a path at one moment, keyed by the
// store-assigned (or caller-assigned) child key. Subscriptions deliver whole
// snapshots so re-subscribing re-delivers the current set.
type Snapshot map[string]json.RawMessage

// Store is the shared replicated store.
//
// Paths are slash-separated, e.g. "messages/<channelId>" is the parent of a
// channel's messages and "presence/<channelId>/<user>" is a single presence
// record. Push assigns lexicographically time-ordered keys, so ordering ties
// on equal timestamps are broken by key order.
type Store interface {
	// Subscribe delivers the current snapshot at path, then a new snapshot
	// after every change. The cancel func releases the listener; no
	// snapshot is delivered after it returns. The channel is closed on
	// cancel or store shutdown.
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, func(), error)

	// Push atomically creates a child of path with a store-assigned key
	// and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)

	// Set writes the value at path (parent/key).
	Set(ctx context.Context, path string, value any) error

	// Delete removes the subtree or leaf at path. Deleting something that
	// does not exist is not an error.
	Delete(ctx context.Context, path string) error

	// List returns the current snapshot at path without subscribing.
	List(ctx context.Context, path string) (Snapshot, error)

	// Children enumerates the child path segments directly under path,
	// e.g. Children("messages") lists channel IDs that hold messages.
	Children(ctx context.Context, path string) ([]string, error)

	// OnDisconnect registers a server-enforced delete of path that fires
	// when this connection is lost, gracefully or not.
	OnDisconnect(ctx context.Context, path string) error

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close releases the connection and fires registered disconnect
	// cleanups.
	Close() error
}

// Registry is the durable channel bookkeeping store. It never sees secrets
// or plaintext: the channel ID is an opaque hash by the time it gets here.
// A nil Registry everywhere means bookkeeping is disabled.
type Registry interface {
	Close()
	Ping(ctx context.Context) error

	CreateChannel(ctx context.Context, id, creator string) (*Channel, error)
	GetChannel(ctx context.Context, id string) (*Channel, error)
	TouchActivity(ctx context.Context, id string) error
	IncrementMessageCount(ctx context.Context, id string) error
	CountChannels(ctx context.Context) (int64, error)
}

// Channel is a registry row for one derived channel.
type Channel struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"` // shortened ID for operator display
	Creator      string    `json:"creator,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int64     `json:"message_count"`
}
