// Package store provides SQLite-backed durable storage for courier.
//
// The store holds:
//   - Messages: one tagged record per live correlation handle
//   - Timeouts: expiry block -> handles expiring at that block
//   - Meta: the handle allocator cursor and the current block
//   - Events: the append-only observability log
//
// # Atomicity
//
// Every engine operation runs inside a single WithTx call. A rejected
// operation returns an error from its callback and the transaction rolls
// back, so the store and schedule are exactly as they were before the call.
//
// # Integer Columns
//
// SQLite integers are signed. Handles, balances and block numbers are uint64
// and are stored with their int64 bit pattern; readers convert back.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - a single open connection: one writer, no SQLITE_BUSY between our own statements
package store
