// Package kvtest provides an in-memory kv.Store with a controllable clock
// for tests of components that depend on expiry.
package kvtest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned by every operation while the store is failing.
var ErrUnavailable = errors.New("kvtest: store unavailable")

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is a map-backed kv.Store. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	data    map[string]entry
	now     time.Time
	failing bool
	broken  map[string]bool
	calls   map[string]int
}

// New returns an empty Store whose clock starts at a fixed instant.
func New() *Store {
	return &Store{
		data:   make(map[string]entry),
		now:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		broken: make(map[string]bool),
		calls:  make(map[string]int),
	}
}

// Advance moves the store clock forward.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetFailing makes every subsequent call return ErrUnavailable.
func (s *Store) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// FailKey makes every operation on key return ErrUnavailable while the rest
// of the store keeps working.
func (s *Store) FailKey(key string) {
	s.mu.Lock()
	s.broken[key] = true
	s.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Keys returns the live keys.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, e := range s.data {
		if s.live(e) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *Store) live(e entry) bool {
	return e.expiresAt.IsZero() || s.now.Before(e.expiresAt)
}

func (s *Store) begin(op, key string) error {
	s.calls[op]++
	if s.failing || s.broken[key] {
		return ErrUnavailable
	}
	return nil
}

func (s *Store) put(key, value string, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now.Add(ttl)
	}
	s.data[key] = e
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("get", key); err != nil {
		return "", false, err
	}
	e, ok := s.data[key]
	if !ok || !s.live(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("set", key); err != nil {
		return err
	}
	s.put(key, value, ttl)
	return nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("setnx", key); err != nil {
		return false, err
	}
	if e, ok := s.data[key]; ok && s.live(e) {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *Store) CompareAndSwap(_ context.Context, key, old, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("cas", key); err != nil {
		return false, err
	}
	e, ok := s.data[key]
	present := ok && s.live(e)
	switch {
	case !present && old != "":
		return false, nil
	case present && e.value != old:
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("delete", key); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}
