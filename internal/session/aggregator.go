package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/groupdesk/internal/fault"
	"github.com/kalambet/groupdesk/internal/kv"
)

// DefaultTTL is how long an idle window survives.
const DefaultTTL = 30 * time.Minute

const maxWriteAttempts = 4

// ErrContended is returned when a concurrent writer kept replacing the
// window faster than Merge could apply its append.
var ErrContended = errors.New("context window contended")

// Aggregator owns per-sender context windows and the legacy memory string.
// Writes are read-modify-write with a compare-and-swap on the stored value,
// so a concurrent append from the same sender causes a retry, not a lost
// update.
type Aggregator struct {
	store  kv.Store
	keys   kv.Keyspace
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewAggregator creates an Aggregator. A ttl <= 0 falls back to DefaultTTL.
func NewAggregator(store kv.Store, keys kv.Keyspace, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		store:  store,
		keys:   keys,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithClock sets the clock used for lastUpdateMillis and default timestamps.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Merge appends a message to the sender's window and legacy memory. Noise
// without an image is dropped and leaves the window untouched.
func (a *Aggregator) Merge(ctx context.Context, senderID, content string, timestampMillis int64, imageURL string) error {
	content = strings.TrimSpace(content)
	noise := IsNoise(content)
	if noise && imageURL == "" {
		a.logger.Debug("dropping noise message from context", "sender_id", senderID)
		return nil
	}
	if noise {
		content = ""
	}
	if timestampMillis <= 0 {
		timestampMillis = a.now().UnixMilli()
	}

	item := Item{Content: content, TimestampMillis: timestampMillis, ImageURL: imageURL}
	err := a.update(ctx, a.keys.Context(senderID), func(raw string) (string, error) {
		w := decodeWindow(raw)
		if w == nil {
			w = &Window{}
		}
		w.Items = append(w.Items, item)
		w.LastUpdateMillis = a.now().UnixMilli()
		b, err := json.Marshal(w)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
	if err != nil {
		return fmt.Errorf("merging context for %s: %w", senderID, err)
	}

	if content == "" {
		return nil
	}
	err = a.update(ctx, a.keys.Memory(senderID), func(raw string) (string, error) {
		if raw == "" {
			return content, nil
		}
		return raw + Separator + content, nil
	})
	if err != nil {
		return fmt.Errorf("appending memory for %s: %w", senderID, err)
	}
	return nil
}

// update applies fn to the current value under compare-and-swap.
func (a *Aggregator) update(ctx context.Context, key string, fn func(raw string) (string, error)) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		raw, _, err := a.store.Get(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(raw)
		if err != nil {
			return fault.Wrap(fault.Store, "encode context", err)
		}
		ok, err := a.store.CompareAndSwap(ctx, key, raw, next, a.ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		a.logger.Debug("context write raced, retrying", "key", key, "attempt", attempt+1)
	}
	return fault.Wrap(fault.Store, "update "+key, ErrContended)
}

// Read returns the sender's window, or nil when there is none. A stored
// value that fails to decode is reported as absent.
func (a *Aggregator) Read(ctx context.Context, senderID string) (*Window, error) {
	raw, ok, err := a.store.Get(ctx, a.keys.Context(senderID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	w := decodeWindow(raw)
	if w == nil {
		a.logger.Warn("discarding undecodable context window", "sender_id", senderID)
	}
	return w, nil
}

// Memory returns the legacy merged string for the sender.
func (a *Aggregator) Memory(ctx context.Context, senderID string) (string, error) {
	raw, _, err := a.store.Get(ctx, a.keys.Memory(senderID))
	return raw, err
}

// Clear drops the sender's window and legacy memory together.
func (a *Aggregator) Clear(ctx context.Context, senderID string) error {
	if err := a.store.Delete(ctx, a.keys.Context(senderID)); err != nil {
		return fmt.Errorf("clearing context for %s: %w", senderID, err)
	}
	if err := a.store.Delete(ctx, a.keys.Memory(senderID)); err != nil {
		return fmt.Errorf("clearing memory for %s: %w", senderID, err)
	}
	return nil
}

func decodeWindow(raw string) *Window {
	if raw == "" {
		return nil
	}
	var w Window
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil
	}
	return &w
}
