package store

import (
	"context"

	"github.com/roach88/courier/internal/ir"
)

// Read-only accessors outside a transaction. They share the Tx
// implementation with a non-transactional querier.

func (s *Store) reader() *Tx {
	return &Tx{q: s.db}
}

// GetMessage returns the record for id. The bool is false when no record exists.
func (s *Store) GetMessage(ctx context.Context, id ir.MessageID) (ir.Message, bool, error) {
	return s.reader().GetMessage(ctx, id)
}

// FindByTransportRef resolves a transport reference to its handle.
func (s *Store) FindByTransportRef(ctx context.Context, ref string) (ir.MessageID, bool, error) {
	return s.reader().FindByTransportRef(ctx, ref)
}

// ListByOrigin returns all records owned by origin ordered by handle.
func (s *Store) ListByOrigin(ctx context.Context, origin ir.Account) ([]ir.Message, error) {
	return s.reader().ListByOrigin(ctx, origin)
}

// TimeoutBucket returns the handles scheduled at block.
func (s *Store) TimeoutBucket(ctx context.Context, block ir.BlockNumber) ([]ir.MessageID, error) {
	return s.reader().TimeoutBucket(ctx, block)
}

// NextTimeoutBlock returns the lowest non-empty bucket in (after, upto].
func (s *Store) NextTimeoutBlock(ctx context.Context, after, upto ir.BlockNumber) (ir.BlockNumber, bool, error) {
	return s.reader().NextTimeoutBlock(ctx, after, upto)
}

// CurrentBlock returns the last block the engine entered.
func (s *Store) CurrentBlock(ctx context.Context) (ir.BlockNumber, error) {
	return s.reader().CurrentBlock(ctx)
}
