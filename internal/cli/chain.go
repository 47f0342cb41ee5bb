package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/courier/internal/ir"
)

// AdvanceOptions holds flags for the advance command.
type AdvanceOptions struct {
	*RootOptions
	To uint64
}

// AdvanceResult is the output of the advance command.
type AdvanceResult struct {
	From ir.BlockNumber `json:"from"`
	To   ir.BlockNumber `json:"to"`
}

// Text implements texter.
func (r AdvanceResult) Text() string {
	if r.From == r.To {
		return fmt.Sprintf("block %d (unchanged)", r.To)
	}
	return fmt.Sprintf("block %d -> %d", r.From, r.To)
}

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdvanceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "advance [n]",
		Short: "Advance the block clock and expire due queries",
		Long: `Advance the block clock by n blocks (default 1), or to --to, sweeping the
timeout schedule of every block entered. A target at or before the current
block is a no-op.

Examples:
  courier advance
  courier advance 10
  courier advance --to 1200`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return advance(opts, args, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.To, "to", 0, "absolute target block")

	return cmd
}

func advance(opts *AdvanceOptions, args []string, cmd *cobra.Command) error {
	n := uint64(1)
	if len(args) == 1 {
		if opts.To != 0 {
			return opts.formatter(cmd).Fail("advance", fmt.Errorf("give either n or --to"))
		}
		var err error
		if n, err = strconv.ParseUint(args[0], 10, 64); err != nil {
			return opts.formatter(cmd).Fail("advance", fmt.Errorf("invalid block count %q: %w", args[0], err))
		}
	}

	return withRuntime(opts.RootOptions, cmd, "advance", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
		from, err := rt.engine.CurrentBlock(ctx)
		if err != nil {
			return f.Fail("advance", err)
		}

		to := from
		if opts.To != 0 {
			if err := rt.engine.OnBlock(ctx, ir.BlockNumber(opts.To)); err != nil {
				return f.Fail("advance", err)
			}
			if to, err = rt.engine.CurrentBlock(ctx); err != nil {
				return f.Fail("advance", err)
			}
		} else if to, err = rt.engine.Advance(ctx, n); err != nil {
			return f.Fail("advance", err)
		}

		rt.logger.Debug("advanced", "from", from, "to", to)
		return f.Success(AdvanceResult{From: from, To: to})
	})
}
