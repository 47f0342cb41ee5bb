// Package callback delivers resolution notifications to their destinations.
//
// The engine stores a callback descriptor with each query and, after a
// Query record leaves the Query state, hands a Notification to its Hook.
// Dispatcher is that Hook. It encodes the notification in the
// destination's convention, charges the callback's weight budget, executes
// the call and records the outcome as a CallbackExecuted or CallbackFailed
// event. The weight it kept is then settled against the fee the origin
// prepaid at creation; a settlement the engine refuses is recorded as a
// WeightRefundErrored event.
//
// # Encodings
//
// Native (compact little-endian):
//
//	selector[4] | id u64 LE | outcome u8 | compact(len) | payload
//
// Calling convention (Solidity ABI):
//
//	selector[4] | abi.encode(uint64 id, uint8 outcome, bytes payload)
//
// The outcome byte is 0 for a response and 1 for a timeout. A timeout
// carries an empty payload.
//
// Delivery is attempted once. Failures are reported, never retried.
package callback
