// Package owner resolves chat senders to the households they belong to.
package owner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/groupdesk/internal/storage"
)

// Store is the persistence the Directory reads and writes.
// Implemented by storage.Store.
type Store interface {
	GetOwner(ctx context.Context, senderID string) (storage.Owner, error)
	UpsertOwner(ctx context.Context, o storage.Owner) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	owner storage.Owner
	found bool
	at    time.Time
}

// Directory caches owner lookups, including misses, for a short TTL.
type Directory struct {
	store  Store
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]entry
}

// NewDirectory creates a Directory with a 60-second cache TTL.
func NewDirectory(store Store) *Directory {
	return NewDirectoryWithClock(store, realClock{}, 60*time.Second)
}

// NewDirectoryWithClock creates a Directory with a custom clock (for testing).
func NewDirectoryWithClock(store Store, clock Clock, ttl time.Duration) *Directory {
	return &Directory{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		logger: slog.Default(),
		cache:  make(map[string]entry),
	}
}

// Lookup returns the owner bound to senderID and whether one exists.
func (d *Directory) Lookup(ctx context.Context, senderID string) (storage.Owner, bool, error) {
	d.mu.RLock()
	e, ok := d.cache[senderID]
	d.mu.RUnlock()
	if ok && d.clock.Now().Before(e.at.Add(d.ttl)) {
		return e.owner, e.found, nil
	}

	o, err := d.store.GetOwner(ctx, senderID)
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.Owner{}, false, fmt.Errorf("looking up owner %s: %w", senderID, err)
	}

	d.mu.Lock()
	d.cache[senderID] = entry{owner: o, found: found, at: d.clock.Now()}
	d.mu.Unlock()
	return o, found, nil
}

// Summary renders the owner as "<room>室, <name>" for the classifier, or
// "" when the sender is unknown or the lookup fails.
func (d *Directory) Summary(ctx context.Context, senderID string) string {
	o, found, err := d.Lookup(ctx, senderID)
	if err != nil {
		d.logger.Warn("owner lookup failed", "sender_id", senderID, "error", err)
		return ""
	}
	if !found {
		return ""
	}
	return formatOwner(o)
}

func formatOwner(o storage.Owner) string {
	room := strings.TrimSpace(o.RoomNumber)
	name := strings.TrimSpace(o.Name)
	switch {
	case room != "" && name != "":
		return fmt.Sprintf("%s室, %s", room, name)
	case room != "":
		return room + "室"
	default:
		return name
	}
}

// Bind stores the owner and drops any cached entry for the sender.
func (d *Directory) Bind(ctx context.Context, o storage.Owner) error {
	if strings.TrimSpace(o.SenderID) == "" {
		return errors.New("sender id is required")
	}
	if err := d.store.UpsertOwner(ctx, o); err != nil {
		return fmt.Errorf("binding owner %s: %w", o.SenderID, err)
	}
	d.mu.Lock()
	delete(d.cache, o.SenderID)
	d.mu.Unlock()
	return nil
}
