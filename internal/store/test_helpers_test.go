package store

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/courier/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestQuery creates a pending query record with a callback.
func createTestQuery(id ir.MessageID, origin string, timeout ir.BlockNumber) ir.Message {
	return ir.Message{
		ID:               id,
		Kind:             ir.KindQuery,
		Origin:           ir.Account(origin),
		Deposit:          100,
		CorrelationToken: "tok",
		TransportRef:     "ref-" + origin + "-" + string(rune('a'+id%26)),
		Callback: &ir.Callback{
			Destination:  common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			Encoding:     ir.EncodingNative,
			Selector:     ir.Selector{0xde, 0xad, 0xbe, 0xef},
			WeightBudget: 5000,
		},
		CallbackFee: 5000,
		Timeout:     timeout,
	}
}
