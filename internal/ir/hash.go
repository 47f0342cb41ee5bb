package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainEvent = "courier/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed ID of an event.
// Seq is part of the identity so two identical facts at different
// positions in the log remain distinct.
func EventID(kind EventKind, block BlockNumber, seq int64, attrs map[string]any) (string, error) {
	obj := map[string]any{
		"kind":  string(kind),
		"block": block,
		"seq":   seq,
	}
	if len(attrs) > 0 {
		obj["attrs"] = attrs
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustEventID is EventID for values known to be canonical. Panics on error.
func MustEventID(kind EventKind, block BlockNumber, seq int64, attrs map[string]any) string {
	id, err := EventID(kind, block, seq, attrs)
	if err != nil {
		panic(err)
	}
	return id
}
