// Package engine implements the courier correlation engine.
//
// The engine owns the lifecycle of every correlation handle:
//
//	Query    --resolve-->  Response  --remove-->  (absent)
//	Query    --sweep---->  Timeout   --remove-->  (absent)
//
// ARCHITECTURE:
//
// Serialized Operations:
// One logical operation (a creation, a resolution, one bucket's sweep, a
// removal batch) runs to completion before the next starts. The engine holds
// a mutex for the duration and every state change is one SQLite transaction,
// so a rejected operation leaves no trace. A creation is the exception: its
// record commits before the transport is called, and a transport failure
// withdraws it in a second transaction.
//
// Collaborators:
//   - ledger.Ledger holds deposits and callback fees, settles the fee for the
//     weight a callback used and releases the rest at removal
//   - Transport receives outbound requests and later calls Resolve/ResolveRef
//   - weight.Meter is charged the upper-bound cost and refunded the difference
//   - Hook receives post-commit notifications for records with a callback
//   - EventSink receives every committed event log entry
//
// Ledger calls happen inside the store transaction. A ledger.Joiner (the
// SQL ledger) shares it; any other ledger has its moves reversed when the
// transaction fails.
//
// Encoding-agnostic:
// The engine stores the callback's encoding tag and forwards it untouched.
// Only internal/callback interprets it.
package engine
