package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/groupdesk/internal/fault"
)

func (s *Store) SaveDraft(ctx context.Context, d Draft) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.clock.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO ticket_drafts (id, group_id, sender_id, content, analysis, status, order_id, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.GroupID, d.SenderID, d.Content, d.Analysis, d.Status, d.OrderID, d.TraceID,
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return fault.Wrap(fault.Persistence, "save draft", err)
}

// MarkDraftSubmitted records the order created for a draft.
func (s *Store) MarkDraftSubmitted(ctx context.Context, id, orderID string) error {
	res, err := s.exec(ctx, `UPDATE ticket_drafts SET status = ?, order_id = ? WHERE id = ?`, DraftSubmitted, orderID, id)
	if err != nil {
		return fault.Wrap(fault.Persistence, "mark draft submitted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault.Wrap(fault.Persistence, "mark draft submitted", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetDraft(ctx context.Context, id string) (Draft, error) {
	rows, err := s.query(ctx, draftSelect+` WHERE id = ?`, id)
	if err != nil {
		return Draft{}, fault.Wrap(fault.Persistence, "get draft", err)
	}
	drafts, err := scanDrafts(rows)
	if err != nil {
		return Draft{}, fault.Wrap(fault.Persistence, "get draft", err)
	}
	if len(drafts) == 0 {
		return Draft{}, ErrNotFound
	}
	return drafts[0], nil
}

// ListPendingDrafts returns a group's drafts that have not become orders,
// newest first.
func (s *Store) ListPendingDrafts(ctx context.Context, groupID string, limit int) ([]Draft, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, draftSelect+` WHERE group_id = ? AND status = ? ORDER BY created_at DESC LIMIT ?`,
		groupID, DraftPending, limit)
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "list drafts", err)
	}
	drafts, err := scanDrafts(rows)
	return drafts, fault.Wrap(fault.Persistence, "list drafts", err)
}

const draftSelect = `SELECT id, group_id, sender_id, content, analysis, status, order_id, trace_id, created_at FROM ticket_drafts`

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanDrafts(rows rowScanner) ([]Draft, error) {
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		var d Draft
		var createdAt string
		if err := rows.Scan(&d.ID, &d.GroupID, &d.SenderID, &d.Content, &d.Analysis, &d.Status, &d.OrderID, &d.TraceID, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		out = append(out, d)
	}
	return out, rows.Err()
}
