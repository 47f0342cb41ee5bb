// Package harness runs YAML scenarios against a real courier engine.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: resolve_roundtrip
//	description: "A query answered before its timeout"
//	limits:
//	  max_timeouts_per_block: 2
//	accounts:
//	  alice: 1000000
//	steps:
//	  - op: create
//	    as: q1
//	    origin: alice
//	    token: "para:1000"
//	    timeout: 5
//	    callback:
//	      destination: "0x0000000000000000000000000000000000000100"
//	      encoding: native
//	      selector: "0x12345678"
//	      weight_budget: 1000
//	  - op: deliver
//	    id: q1
//	    payload: "0x0102"
//	  - op: status
//	    id: q1
//	    expect: { status: complete }
//	  - op: remove
//	    origin: bob
//	    ids: [q1]
//	    expect: { error: BadOrigin }
//	assertions:
//	  - type: event_count
//	    kind: QueryCreated
//	    count: 1
//	  - type: final_status
//	    id: q1
//	    status: complete
//
// # Operations
//
//   - create: CreateQuery; `as` binds a label to the new handle
//   - resolve: Resolve by handle
//   - deliver: answer through the loopback transport, by transport reference
//   - advance: move the block clock forward, sweeping expired queries
//   - remove: Remove a batch of handles for an origin
//   - status, fetch: PollStatus and Response
//   - balance: read an account's free and reserved funds
//
// # Assertion Types
//
//   - event_count: Verifies an event kind appears exactly N times
//   - event_order: Verifies event kinds first appear in the given order
//   - callback_count: Verifies how many callbacks were executed
//   - final_status: Polls a handle after the last step
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, a fresh event clock,
// sequential transport references (ref-1, ref-2, ...) and a recording
// callback executor, so the same scenario always yields byte-identical
// snapshots for golden comparison.
package harness
