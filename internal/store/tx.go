package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/courier/internal/ir"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is the set of store operations available inside WithTx.
type Tx struct {
	q Querier
}

// Conn returns the connection tx runs on, so that code keeping its own
// tables in the same database (the SQL ledger) can join the transaction.
func (t *Tx) Conn() Querier {
	return t.q
}

const messageColumns = `id, kind, origin, deposit, correlation_token, transport_ref,
	callback, callback_fee, timeout_block, received_at, expired_at, payload`

// GetMessage returns the record for id. The bool is false when no record exists.
func (t *Tx) GetMessage(ctx context.Context, id ir.MessageID) (ir.Message, bool, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, int64(id))
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Message{}, false, nil
	}
	if err != nil {
		return ir.Message{}, false, fmt.Errorf("get message %d: %w", id, err)
	}
	return msg, true, nil
}

// FindByTransportRef resolves a transport reference to its handle.
func (t *Tx) FindByTransportRef(ctx context.Context, ref string) (ir.MessageID, bool, error) {
	var id int64
	err := t.q.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE transport_ref = ?`, ref).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find transport ref %q: %w", ref, err)
	}
	return ir.MessageID(id), true, nil
}

// InsertMessage writes a new record. Fails if the handle already exists.
func (t *Tx) InsertMessage(ctx context.Context, msg ir.Message) error {
	cb, err := marshalCallback(msg.Callback)
	if err != nil {
		return fmt.Errorf("insert message %d: %w", msg.ID, err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(msg.ID),
		int(msg.Kind),
		string(msg.Origin),
		int64(msg.Deposit),
		msg.CorrelationToken,
		nullString(msg.TransportRef),
		cb,
		int64(msg.CallbackFee),
		int64(msg.Timeout),
		int64(msg.ReceivedAt),
		int64(msg.ExpiredAt),
		msg.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert message %d: %w", msg.ID, err)
	}
	return nil
}

// UpdateMessage replaces the stored record for msg.ID.
func (t *Tx) UpdateMessage(ctx context.Context, msg ir.Message) error {
	cb, err := marshalCallback(msg.Callback)
	if err != nil {
		return fmt.Errorf("update message %d: %w", msg.ID, err)
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE messages
		SET kind = ?, origin = ?, deposit = ?, correlation_token = ?, transport_ref = ?,
		    callback = ?, callback_fee = ?, timeout_block = ?, received_at = ?,
		    expired_at = ?, payload = ?
		WHERE id = ?
	`,
		int(msg.Kind),
		string(msg.Origin),
		int64(msg.Deposit),
		msg.CorrelationToken,
		nullString(msg.TransportRef),
		cb,
		int64(msg.CallbackFee),
		int64(msg.Timeout),
		int64(msg.ReceivedAt),
		int64(msg.ExpiredAt),
		msg.Payload,
		int64(msg.ID),
	)
	if err != nil {
		return fmt.Errorf("update message %d: %w", msg.ID, err)
	}
	return expectOneRow(res, "update message", msg.ID)
}

// SetTransportRef records the transport's reference for id.
func (t *Tx) SetTransportRef(ctx context.Context, id ir.MessageID, ref string) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE messages SET transport_ref = ? WHERE id = ?`, nullString(ref), int64(id))
	if err != nil {
		return fmt.Errorf("set transport ref %d: %w", id, err)
	}
	return expectOneRow(res, "set transport ref", id)
}

// DeleteMessage removes the record for id.
func (t *Tx) DeleteMessage(ctx context.Context, id ir.MessageID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return expectOneRow(res, "delete message", id)
}

// ListByOrigin returns all records owned by origin ordered by handle.
func (t *Tx) ListByOrigin(ctx context.Context, origin ir.Account) ([]ir.Message, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE origin = ? ORDER BY id ASC`, string(origin))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []ir.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// TimeoutCount returns the number of handles scheduled to expire at block.
func (t *Tx) TimeoutCount(ctx context.Context, block ir.BlockNumber) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timeouts WHERE block = ?`, int64(block)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count timeouts at %d: %w", block, err)
	}
	return n, nil
}

// AddTimeout schedules id to expire at block.
func (t *Tx) AddTimeout(ctx context.Context, block ir.BlockNumber, id ir.MessageID) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO timeouts (block, message_id) VALUES (?, ?)`, int64(block), int64(id))
	if err != nil {
		return fmt.Errorf("add timeout %d at %d: %w", id, block, err)
	}
	return nil
}

// RemoveTimeout unschedules id from block. Missing entries are not an error.
func (t *Tx) RemoveTimeout(ctx context.Context, block ir.BlockNumber, id ir.MessageID) error {
	_, err := t.q.ExecContext(ctx,
		`DELETE FROM timeouts WHERE block = ? AND message_id = ?`, int64(block), int64(id))
	if err != nil {
		return fmt.Errorf("remove timeout %d at %d: %w", id, block, err)
	}
	return nil
}

// TimeoutBucket returns the handles scheduled at block in insertion order.
func (t *Tx) TimeoutBucket(ctx context.Context, block ir.BlockNumber) ([]ir.MessageID, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT message_id FROM timeouts WHERE block = ? ORDER BY rowid ASC`, int64(block))
	if err != nil {
		return nil, fmt.Errorf("read timeouts at %d: %w", block, err)
	}
	defer rows.Close()

	ids := []ir.MessageID{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan timeout: %w", err)
		}
		ids = append(ids, ir.MessageID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeouts: %w", err)
	}
	return ids, nil
}

// NextTimeoutBlock returns the lowest block in (after, upto] that has a
// scheduled timeout. The bool is false when every bucket in the range is
// empty.
func (t *Tx) NextTimeoutBlock(ctx context.Context, after, upto ir.BlockNumber) (ir.BlockNumber, bool, error) {
	var block sql.NullInt64
	err := t.q.QueryRowContext(ctx,
		`SELECT MIN(block) FROM timeouts WHERE block > ? AND block <= ?`,
		int64(after), int64(upto)).Scan(&block)
	if err != nil {
		return 0, false, fmt.Errorf("next timeout after %d: %w", after, err)
	}
	if !block.Valid {
		return 0, false, nil
	}
	return ir.BlockNumber(block.Int64), true, nil
}

// ClearTimeouts drops the whole bucket at block.
func (t *Tx) ClearTimeouts(ctx context.Context, block ir.BlockNumber) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM timeouts WHERE block = ?`, int64(block)); err != nil {
		return fmt.Errorf("clear timeouts at %d: %w", block, err)
	}
	return nil
}

// NextMessageID issues the next handle and advances the persisted cursor.
// Handles start at 1. Returns ErrHandleSpaceExhausted instead of wrapping.
func (t *Tx) NextMessageID(ctx context.Context) (ir.MessageID, error) {
	next, err := t.meta(ctx, metaNextMessageID, 1)
	if err != nil {
		return 0, err
	}
	if next == math.MaxUint64 {
		return 0, ErrHandleSpaceExhausted
	}
	if err := t.setMeta(ctx, metaNextMessageID, next+1); err != nil {
		return 0, err
	}
	return ir.MessageID(next), nil
}

// PeekNextMessageID returns the handle the next NextMessageID call would issue.
func (t *Tx) PeekNextMessageID(ctx context.Context) (ir.MessageID, error) {
	next, err := t.meta(ctx, metaNextMessageID, 1)
	return ir.MessageID(next), err
}

// SetNextMessageID moves the allocator cursor. Used by tests and restores.
func (t *Tx) SetNextMessageID(ctx context.Context, next ir.MessageID) error {
	return t.setMeta(ctx, metaNextMessageID, uint64(next))
}

// CurrentBlock returns the last block the engine entered (0 initially).
func (t *Tx) CurrentBlock(ctx context.Context) (ir.BlockNumber, error) {
	b, err := t.meta(ctx, metaCurrentBlock, 0)
	return ir.BlockNumber(b), err
}

// SetCurrentBlock persists the current block.
func (t *Tx) SetCurrentBlock(ctx context.Context, block ir.BlockNumber) error {
	return t.setMeta(ctx, metaCurrentBlock, uint64(block))
}

func (t *Tx) meta(ctx context.Context, key string, def uint64) (uint64, error) {
	var v int64
	err := t.q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read meta %s: %w", key, err)
	}
	return uint64(v), nil
}

func (t *Tx) setMeta(ctx context.Context, key string, v uint64) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, int64(v))
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (ir.Message, error) {
	var (
		id, deposit, fee, timeout, received, expired int64
		kind                                         int
		origin, token                                string
		ref, cb                                      sql.NullString
		payload                                      []byte
	)
	if err := row.Scan(&id, &kind, &origin, &deposit, &token, &ref, &cb, &fee,
		&timeout, &received, &expired, &payload); err != nil {
		return ir.Message{}, err
	}

	callback, err := unmarshalCallback(cb)
	if err != nil {
		return ir.Message{}, err
	}

	return ir.Message{
		ID:               ir.MessageID(id),
		Kind:             ir.Kind(kind),
		Origin:           ir.Account(origin),
		Deposit:          ir.Balance(deposit),
		CorrelationToken: token,
		TransportRef:     ref.String,
		Callback:         callback,
		CallbackFee:      ir.Balance(fee),
		Timeout:          ir.BlockNumber(timeout),
		ReceivedAt:       ir.BlockNumber(received),
		ExpiredAt:        ir.BlockNumber(expired),
		Payload:          payload,
	}, nil
}

func expectOneRow(res sql.Result, op string, id ir.MessageID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: rows affected: %w", op, id, err)
	}
	if n != 1 {
		return fmt.Errorf("%s %d: %w", op, id, sql.ErrNoRows)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
