package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kalambet/groupdesk/internal/fault"
)

// Entries carry expires_at as unix milliseconds; NULL means no expiry. A
// row whose expires_at is not in the future is treated as absent by every
// read and may be overwritten by SetNX.

func (s *Store) nowMillis() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.clock.Now().Add(ttl).UnixMilli(), Valid: true}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fault.Wrap(fault.Store, "kv get", err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.exec(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiry(ttl),
	)
	return fault.Wrap(fault.Store, "kv set", err)
}

// SetNX inserts the entry, or replaces it only when the existing one has
// expired. One statement, so two concurrent callers cannot both win.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?`,
		key, value, s.expiry(ttl), s.nowMillis(),
	)
	if err != nil {
		return false, fault.Wrap(fault.Store, "kv setnx", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.Store, "kv setnx", err)
	}
	return n == 1, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error) {
	if old == "" {
		return s.SetNX(ctx, key, value, ttl)
	}
	res, err := s.exec(ctx, `
		UPDATE kv SET value = ?, expires_at = ?
		WHERE key = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?)`,
		value, s.expiry(ttl), key, old, s.nowMillis(),
	)
	if err != nil {
		return false, fault.Wrap(fault.Store, "kv cas", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.Store, "kv cas", err)
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.exec(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return fault.Wrap(fault.Store, "kv delete", err)
}

// PurgeExpired removes expired entries and returns how many were deleted.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.nowMillis())
	if err != nil {
		return 0, fault.Wrap(fault.Store, "kv purge", err)
	}
	return res.RowsAffected()
}
