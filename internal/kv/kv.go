// Package kv defines the shared key-value contract every stateful pipeline
// component works against. Entries may carry an expiry; an expired entry is
// indistinguishable from an absent one.
package kv

import (
	"context"
	"time"
)

// Store is the shared external state. A ttl of zero means no expiry.
type Store interface {
	// Get returns the value and true, or "" and false when absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes value only if key is absent or expired, in a single
	// atomic operation. It reports whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces old with value when the live entry equals old.
	// An empty old matches an absent key. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Keyspace builds the namespaced keys for each kind of state so that dedup
// fingerprints, context windows and archive bookkeeping never collide.
type Keyspace struct {
	Prefix string
}

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "groupdesk"

// NewKeyspace returns a Keyspace for prefix, falling back to DefaultPrefix.
func NewKeyspace(prefix string) Keyspace {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keyspace{Prefix: prefix}
}

func (k Keyspace) Dedup(senderID, fingerprint string) string {
	return k.Prefix + ":dedup:" + senderID + ":" + fingerprint
}

func (k Keyspace) Context(senderID string) string {
	return k.Prefix + ":context:" + senderID
}

func (k Keyspace) Memory(senderID string) string {
	return k.Prefix + ":memory:" + senderID
}

func (k Keyspace) ArchiveCursor() string {
	return k.Prefix + ":archive:cursor"
}

func (k Keyspace) ArchiveLease() string {
	return k.Prefix + ":archive:lease"
}
