package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/courier/internal/ir"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After int64
	Limit int
	Redis bool
	From  string // redis entry id to read after
}

// EventsResult is the output of the events command.
type EventsResult struct {
	Events []ir.Event `json:"events"`
	Cursor string     `json:"cursor,omitempty"`
}

// Text implements texter.
func (r EventsResult) Text() string {
	var b strings.Builder
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "%6d  block %-6d %-18s", ev.Seq, ev.Block, ev.Kind)
		for _, k := range ir.SortedKeys(ev.Attrs) {
			fmt.Fprintf(&b, " %s=%v", k, ev.Attrs[k])
		}
		b.WriteByte('\n')
	}
	if r.Cursor != "" {
		fmt.Fprintf(&b, "cursor: %s\n", r.Cursor)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event log",
		Long: `List events in sequence order from the database, or with --redis from the
configured redis stream.

Examples:
  courier events
  courier events --after 120 --limit 20
  courier events --redis --from 1712345678901-0`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEvents(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "list events with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of events")
	cmd.Flags().BoolVar(&opts.Redis, "redis", false, "read from the redis stream instead of the database")
	cmd.Flags().StringVar(&opts.From, "from", "", "redis entry id to read after")

	return cmd
}

func listEvents(opts *EventsOptions, cmd *cobra.Command) error {
	return withRuntime(opts.RootOptions, cmd, "events", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
		if !opts.Redis {
			evs, err := rt.store.ListEvents(ctx, opts.After, opts.Limit)
			if err != nil {
				return f.Fail("events", err)
			}
			return f.Success(EventsResult{Events: evs})
		}

		if rt.redis == nil {
			return f.Fail("events", fmt.Errorf("no redis address configured (events.redis_addr)"))
		}
		evs, cursor, err := rt.redis.Read(ctx, opts.From, int64(opts.Limit))
		if err != nil {
			return f.Fail("events", err)
		}
		return f.Success(EventsResult{Events: evs, Cursor: cursor})
	})
}
