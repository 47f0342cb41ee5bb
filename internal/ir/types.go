package ir

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MessageID is the correlation handle returned to a caller.
// Handles are unique for the lifetime of a store and never reused.
type MessageID uint64

// Account identifies the caller that owns a message and its deposit.
type Account string

// Balance is an amount of the deposit currency.
type Balance uint64

// Weight is an abstract execution cost unit.
type Weight uint64

// BlockNumber is the logical clock of the engine.
type BlockNumber uint64

// Selector routes a notification inside its destination.
type Selector [4]byte

// String returns the selector as 0x-prefixed hex.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// ParseSelector parses a 4-byte selector from hex, with or without 0x prefix.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return sel, fmt.Errorf("parse selector %q: %w", s, err)
	}
	if len(raw) != len(sel) {
		return sel, fmt.Errorf("parse selector %q: want 4 bytes, got %d", s, len(raw))
	}
	copy(sel[:], raw)
	return sel, nil
}

// Encoding selects how a notification is encoded for its destination.
type Encoding int

const (
	// EncodingNative is the compact little-endian binary encoding.
	EncodingNative Encoding = iota + 1
	// EncodingCallingConvention is Solidity-ABI encoding prefixed by the selector.
	EncodingCallingConvention
)

// String implements fmt.Stringer.
func (e Encoding) String() string {
	switch e {
	case EncodingNative:
		return "native"
	case EncodingCallingConvention:
		return "abi"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding accepts "native" or "abi".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "native", "scale":
		return EncodingNative, nil
	case "abi", "calling_convention", "solidity":
		return EncodingCallingConvention, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q: must be native or abi", s)
	}
}

// Callback describes how to push a resolution to the origin.
type Callback struct {
	Destination  common.Address `json:"destination"`
	Encoding     Encoding       `json:"encoding"`
	Selector     Selector       `json:"selector"`
	WeightBudget Weight         `json:"weight_budget"`
}

// Kind tags the variant of a Message.
type Kind int

const (
	// KindQuery is a request awaiting its response.
	KindQuery Kind = iota + 1
	// KindResponse is a received response awaiting removal.
	KindResponse
	// KindTimeout is a request that expired before a response arrived.
	KindTimeout
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindResponse:
		return "response"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Terminal reports whether a record of this kind may be removed by its origin.
func (k Kind) Terminal() bool {
	return k == KindResponse || k == KindTimeout
}

// Message is the authoritative record for one correlation handle.
//
// Fields by kind:
//   - Query: CorrelationToken, Callback, CallbackFee, Timeout
//   - Response: ReceivedAt, Payload, CallbackFee
//   - Timeout: ExpiredAt, Callback, CallbackFee
//
// Origin, Deposit and TransportRef are carried by every kind. Keeping the
// ref lets a late or repeated answer from the transport be told apart from
// one for an unknown request.
type Message struct {
	ID               MessageID
	Kind             Kind
	Origin           Account
	Deposit          Balance
	CorrelationToken string
	TransportRef     string
	Callback         *Callback
	// CallbackFee is the part of the callback fee still held against Origin.
	// It drops to zero once the fee is settled.
	CallbackFee Balance
	Timeout     BlockNumber
	ReceivedAt  BlockNumber
	ExpiredAt   BlockNumber
	Payload     []byte
}

// Status returns the poll status of the record.
func (m Message) Status() Status {
	switch m.Kind {
	case KindQuery:
		return StatusPending
	case KindResponse:
		return StatusComplete
	case KindTimeout:
		return StatusExpired
	default:
		return StatusNotFound
	}
}

// Status is the externally visible state of a handle.
type Status int

const (
	// StatusNotFound means the handle was never issued or was removed.
	StatusNotFound Status = iota
	// StatusPending means the request awaits its response.
	StatusPending
	// StatusComplete means a response is stored.
	StatusComplete
	// StatusExpired means the request timed out.
	StatusExpired
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "not_found":
		return StatusNotFound, nil
	case "pending":
		return StatusPending, nil
	case "complete":
		return StatusComplete, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}
