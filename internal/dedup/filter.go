// Package dedup suppresses exact re-deliveries of the same chat message
// within a short window.
package dedup

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kalambet/groupdesk/internal/kv"
)

// DefaultWindow is how long a fingerprint marks a message as seen.
const DefaultWindow = 60 * time.Second

// Filter marks message fingerprints in the shared store.
type Filter struct {
	store  kv.Store
	keys   kv.Keyspace
	window time.Duration
	logger *slog.Logger
}

// NewFilter creates a Filter. A window <= 0 falls back to DefaultWindow.
func NewFilter(store kv.Store, keys kv.Keyspace, window time.Duration) *Filter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Filter{store: store, keys: keys, window: window, logger: slog.Default()}
}

// Fingerprint hashes the sender and trimmed content.
func Fingerprint(senderID, content string) string {
	sum := blake3.Sum256([]byte(senderID + ":" + strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:16])
}

// CheckAndMark reports whether the message was already seen within the
// window, marking it as seen otherwise. Empty content is never a duplicate.
// Store failures are logged and treated as "not a duplicate".
func (f *Filter) CheckAndMark(ctx context.Context, senderID, content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}

	key := f.keys.Dedup(senderID, Fingerprint(senderID, content))
	fresh, err := f.store.SetNX(ctx, key, "1", f.window)
	if err != nil {
		f.logger.Warn("dedup store unavailable, letting message through", "sender_id", senderID, "error", err)
		return false
	}
	return !fresh
}
