package store

import (
	"context"
	"fmt"

	"github.com/roach88/courier/internal/ir"
)

// AppendEvent writes one event to the log.
// The event ID is content-addressed, so re-appending the same event fails
// on the UNIQUE constraint rather than duplicating the entry.
func (t *Tx) AppendEvent(ctx context.Context, ev ir.Event) error {
	attrs, err := marshalAttrs(ev.Attrs)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.Kind, err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO events (seq, id, kind, block, attrs)
		VALUES (?, ?, ?, ?, ?)
	`, ev.Seq, ev.ID, string(ev.Kind), int64(ev.Block), attrs)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.Kind, err)
	}
	return nil
}

// AppendEvents writes events produced outside an engine transaction, such as
// callback outcomes recorded by the dispatcher.
func (s *Store) AppendEvents(ctx context.Context, evs ...ir.Event) error {
	if len(evs) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, ev := range evs {
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListEvents returns events with seq greater than afterSeq in log order.
// A limit of 0 returns all remaining events.
func (s *Store) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	query := `SELECT seq, id, kind, block, attrs FROM events WHERE seq > ? ORDER BY seq ASC`
	args := []any{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	evs := []ir.Event{}
	for rows.Next() {
		var (
			ev    ir.Event
			kind  string
			block int64
			attrs string
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &kind, &block, &attrs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = ir.EventKind(kind)
		ev.Block = ir.BlockNumber(block)
		if ev.Attrs, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		evs = append(evs, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return evs, nil
}

// MaxEventSeq returns the highest seq in the log, or 0 when it is empty.
func (s *Store) MaxEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max event seq: %w", err)
	}
	return seq, nil
}
