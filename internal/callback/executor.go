package callback

import (
	"context"
	"encoding/hex"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/courier/internal/ir"
)

// Call is one encoded notification ready for execution.
type Call struct {
	MessageID   ir.MessageID
	Destination common.Address
	Data        []byte
	// WeightLimit is the callback's weight budget. Execution must not exceed it.
	WeightLimit ir.Weight
}

// Result reports what an execution consumed.
type Result struct {
	WeightUsed ir.Weight
	// Reported is false when the executor cannot measure weight. The full
	// budget is then kept.
	Reported bool
}

// Executor runs calls against destinations.
type Executor interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call Call) (Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, call Call) (Result, error) {
	return f(ctx, call)
}

// LogExecutor logs each call instead of running it. Used by the CLI, which
// has no destination runtime to call into.
type LogExecutor struct {
	logger *slog.Logger
}

// NewLogExecutor logs to logger. A nil logger uses slog.Default().
func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExecutor{logger: logger}
}

// Execute implements Executor. Weight is unreported.
func (x *LogExecutor) Execute(ctx context.Context, call Call) (Result, error) {
	x.logger.InfoContext(ctx, "callback call",
		"message_id", call.MessageID,
		"destination", call.Destination.Hex(),
		"weight_limit", call.WeightLimit,
		"data", "0x"+hex.EncodeToString(call.Data),
	)
	return Result{}, nil
}
