package callback

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/ir"
)

// Outcome bytes on the wire.
const (
	outcomeResponse uint8 = 0
	outcomeTimeout  uint8 = 1
)

var notificationArgs = mustArguments("uint64", "uint8", "bytes")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, typ := range types {
		t, err := abi.NewType(typ, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", typ, err))
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// Encode renders n as call data for its destination.
func Encode(n engine.Notification) ([]byte, error) {
	outcome, payload, err := wireOutcome(n)
	if err != nil {
		return nil, err
	}

	switch n.Callback.Encoding {
	case ir.EncodingNative:
		return encodeNative(n.Callback.Selector, n.ID, outcome, payload), nil
	case ir.EncodingCallingConvention:
		return encodeABI(n.Callback.Selector, n.ID, outcome, payload)
	default:
		return nil, fmt.Errorf("encode message %d: unsupported encoding %s", n.ID, n.Callback.Encoding)
	}
}

func wireOutcome(n engine.Notification) (uint8, []byte, error) {
	switch n.Outcome {
	case engine.OutcomeResponse:
		return outcomeResponse, n.Payload, nil
	case engine.OutcomeTimeout:
		return outcomeTimeout, nil, nil
	default:
		return 0, nil, fmt.Errorf("encode message %d: unknown outcome %d", n.ID, int(n.Outcome))
	}
}

func encodeNative(sel ir.Selector, id ir.MessageID, outcome uint8, payload []byte) []byte {
	buf := make([]byte, 0, len(sel)+8+1+5+len(payload))
	buf = append(buf, sel[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
	buf = append(buf, outcome)
	buf = appendCompact(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func encodeABI(sel ir.Selector, id ir.MessageID, outcome uint8, payload []byte) ([]byte, error) {
	if payload == nil {
		payload = []byte{}
	}
	packed, err := notificationArgs.Pack(uint64(id), outcome, payload)
	if err != nil {
		return nil, fmt.Errorf("abi encode message %d: %w", id, err)
	}
	return append(sel[:], packed...), nil
}
