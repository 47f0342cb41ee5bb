// Package events publishes committed event log entries outside the process.
//
// The SQLite event log is the source of truth. Sinks are best-effort
// mirrors: a publish failure is logged by the engine and never undoes the
// operation that produced the event.
package events

import (
	"context"
	"log/slog"

	"github.com/roach88/courier/internal/ir"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink logs to logger at level. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

// Publish implements engine.EventSink.
func (s *LogSink) Publish(ctx context.Context, ev ir.Event) error {
	args := []any{
		"kind", string(ev.Kind),
		"seq", ev.Seq,
		"block", ev.Block,
		"id", ev.ID,
	}
	for _, k := range ir.SortedKeys(ev.Attrs) {
		args = append(args, "attr."+k, ev.Attrs[k])
	}
	s.logger.Log(ctx, s.level, "event", args...)
	return nil
}
