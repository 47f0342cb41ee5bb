package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/ir"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Origin   string
	Token    string
	Timeout  uint64 // absolute expiry block
	After    uint64 // expiry relative to the current block
	Dest     string
	Encoding string
	Selector string
	Weight   uint64
}

// CreateResult is the output of the create command.
type CreateResult struct {
	ID           ir.MessageID   `json:"id"`
	TransportRef string         `json:"transport_ref,omitempty"`
	Deposit      ir.Balance     `json:"deposit"`
	CallbackFee  ir.Balance     `json:"callback_fee,omitempty"`
	Timeout      ir.BlockNumber `json:"timeout"`
}

// Text implements texter.
func (r CreateResult) Text() string {
	return fmt.Sprintf("created query %d (ref %s, deposit %d, expires at block %d)",
		r.ID, r.TransportRef, r.Deposit, r.Timeout)
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an outbound query and get its handle",
		Long: `Register an outbound query, reserve its deposit and schedule its timeout.

Exactly one of --timeout (absolute block) or --after (blocks from now) is
required. A callback is attached when --dest is given.

Examples:
  courier create --origin alice --token para:1000 --after 10
  courier create --origin alice --timeout 42 \
    --dest 0x0000000000000000000000000000000000000100 --encoding abi \
    --selector 0x12345678 --weight 50000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Origin, "origin", "", "account that owns the query (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "opaque correlation token passed to the transport")
	cmd.Flags().Uint64Var(&opts.Timeout, "timeout", 0, "absolute expiry block")
	cmd.Flags().Uint64Var(&opts.After, "after", 0, "expiry in blocks from the current block")
	cmd.Flags().StringVar(&opts.Dest, "dest", "", "callback destination address")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", "native", "callback encoding (native|abi)")
	cmd.Flags().StringVar(&opts.Selector, "selector", "0x00000000", "callback selector (4 bytes hex)")
	cmd.Flags().Uint64Var(&opts.Weight, "weight", 0, "callback weight budget")
	_ = cmd.MarkFlagRequired("origin")
	cmd.MarkFlagsMutuallyExclusive("timeout", "after")
	cmd.MarkFlagsOneRequired("timeout", "after")

	return cmd
}

func (o *CreateOptions) callback() (*ir.Callback, error) {
	if o.Dest == "" {
		return nil, nil
	}
	if !common.IsHexAddress(o.Dest) {
		return nil, fmt.Errorf("invalid --dest %q", o.Dest)
	}
	enc, err := ir.ParseEncoding(o.Encoding)
	if err != nil {
		return nil, err
	}
	sel, err := ir.ParseSelector(o.Selector)
	if err != nil {
		return nil, err
	}
	return &ir.Callback{
		Destination:  common.HexToAddress(o.Dest),
		Encoding:     enc,
		Selector:     sel,
		WeightBudget: ir.Weight(o.Weight),
	}, nil
}

func createQuery(opts *CreateOptions, cmd *cobra.Command) error {
	cb, err := opts.callback()
	if err != nil {
		return opts.formatter(cmd).Fail("create", err)
	}

	return withRuntime(opts.RootOptions, cmd, "create", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
		timeout := ir.BlockNumber(opts.Timeout)
		if opts.After > 0 {
			current, err := rt.engine.CurrentBlock(ctx)
			if err != nil {
				return f.Fail("create", err)
			}
			timeout = current + ir.BlockNumber(opts.After)
		}

		created, err := rt.engine.CreateQuery(ctx, engine.QueryRequest{
			Origin:           ir.Account(opts.Origin),
			CorrelationToken: opts.Token,
			Timeout:          timeout,
			Callback:         cb,
		})
		if err != nil {
			return f.Fail("create", err)
		}

		return f.Success(CreateResult{
			ID:           created.ID,
			TransportRef: created.TransportRef,
			Deposit:      created.Deposit,
			CallbackFee:  created.CallbackFee,
			Timeout:      timeout,
		})
	})
}

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Payload string
	Ref     string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve [id]",
		Short: "Deliver a response for a pending query",
		Long: `Deliver a response for a pending query, by handle or by transport reference.

The payload is hex when prefixed with 0x, text otherwise.

Examples:
  courier resolve 7 --payload 0x0102
  courier resolve --ref 0190c8d2-... --payload ok`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveQuery(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "", "response payload (0x-prefixed hex or text)")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "resolve by transport reference instead of handle")

	return cmd
}

func resolveQuery(opts *ResolveOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if (len(args) == 1) == (opts.Ref != "") {
		return f.Fail("resolve", fmt.Errorf("give either a handle or --ref"))
	}
	payload, err := parsePayload(opts.Payload)
	if err != nil {
		return f.Fail("resolve", err)
	}
	var id ir.MessageID
	if len(args) == 1 {
		if id, err = parseID(args[0]); err != nil {
			return f.Fail("resolve", err)
		}
	}

	return withRuntime(opts.RootOptions, cmd, "resolve", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
		if opts.Ref != "" {
			err = rt.engine.ResolveRef(ctx, opts.Ref, payload)
		} else {
			err = rt.engine.Resolve(ctx, id, payload)
		}
		if err != nil {
			return f.Fail("resolve", err)
		}
		return f.Success(map[string]any{"resolved": true, "payload_len": len(payload)})
	})
}

// StatusResult is the output of the status command.
type StatusResult struct {
	ID     ir.MessageID `json:"id"`
	Status string       `json:"status"`
}

// Text implements texter.
func (r StatusResult) Text() string {
	return fmt.Sprintf("%d: %s", r.ID, r.Status)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of a handle",
		Long: `Show the status of a handle: pending, complete, expired or not_found.

Example:
  courier status 7`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return rootOpts.formatter(cmd).Fail("status", err)
			}
			return withRuntime(rootOpts, cmd, "status", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				status, err := rt.engine.PollStatus(ctx, id)
				if err != nil {
					return f.Fail("status", err)
				}
				return f.Success(StatusResult{ID: id, Status: status.String()})
			})
		},
	}
}

// FetchResult is the output of the fetch command.
type FetchResult struct {
	ID      ir.MessageID `json:"id"`
	Payload string       `json:"payload"`
}

// Text implements texter.
func (r FetchResult) Text() string {
	return r.Payload
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <id>",
		Short: "Print the stored response of a handle",
		Long: `Print the stored response of a handle as 0x-prefixed hex.

Fails with RequestPending before the response arrives and RequestTimedOut
after the query expired.

Example:
  courier fetch 7`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return rootOpts.formatter(cmd).Fail("fetch", err)
			}
			return withRuntime(rootOpts, cmd, "fetch", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				payload, err := rt.engine.Response(ctx, id)
				if err != nil {
					return f.Fail("fetch", err)
				}
				return f.Success(FetchResult{ID: id, Payload: "0x" + hex.EncodeToString(payload)})
			})
		},
	}
}

// RemoveOptions holds flags for the remove command.
type RemoveOptions struct {
	*RootOptions
	Origin string
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove answered or expired records and release their deposits",
		Long: `Remove a batch of answered or expired records owned by --origin.

The batch is all-or-nothing: if any handle is unknown, pending or owned by
another account, nothing is removed.

Example:
  courier remove --origin alice 7 8 9`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return removeRecords(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Origin, "origin", "", "account that owns the records (required)")
	_ = cmd.MarkFlagRequired("origin")

	return cmd
}

func removeRecords(opts *RemoveOptions, args []string, cmd *cobra.Command) error {
	ids := make([]ir.MessageID, len(args))
	for i, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return opts.formatter(cmd).Fail("remove", err)
		}
		ids[i] = id
	}

	return withRuntime(opts.RootOptions, cmd, "remove", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
		if err := rt.engine.Remove(ctx, ir.Account(opts.Origin), ids); err != nil {
			return f.Fail("remove", err)
		}
		return f.Success(map[string]any{"removed": len(ids)})
	})
}

func parseID(s string) (ir.MessageID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return ir.MessageID(n), nil
}

func parsePayload(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid payload hex: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}
