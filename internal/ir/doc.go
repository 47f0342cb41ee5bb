// Package ir provides the canonical record types shared by every courier package.
//
// This package contains type definitions and canonical serialization only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Message is a tagged record: Kind selects which fields are meaningful
//   - Block numbers are the only notion of time (no wall clock in records)
//   - Event identities are content-addressed over canonical JSON
//   - All JSON tags use snake_case
package ir
