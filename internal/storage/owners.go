package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/groupdesk/internal/fault"
)

func (s *Store) GetOwner(ctx context.Context, senderID string) (Owner, error) {
	var o Owner
	var updatedAt string
	err := s.queryRow(ctx, `
		SELECT sender_id, room_number, owner_name, phone, house_id, updated_at
		FROM owners WHERE sender_id = ?`, senderID,
	).Scan(&o.SenderID, &o.RoomNumber, &o.Name, &o.Phone, &o.HouseID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Owner{}, ErrNotFound
	}
	if err != nil {
		return Owner{}, fault.Wrap(fault.Store, "get owner", err)
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Owner{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	o.UpdatedAt = t
	return o, nil
}

func (s *Store) UpsertOwner(ctx context.Context, o Owner) error {
	_, err := s.exec(ctx, `
		INSERT INTO owners (sender_id, room_number, owner_name, phone, house_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (sender_id) DO UPDATE SET
			room_number = excluded.room_number,
			owner_name = excluded.owner_name,
			phone = excluded.phone,
			house_id = excluded.house_id,
			updated_at = excluded.updated_at`,
		o.SenderID, o.RoomNumber, o.Name, o.Phone, o.HouseID,
		s.clock.Now().UTC().Format(time.RFC3339),
	)
	return fault.Wrap(fault.Store, "upsert owner", err)
}
