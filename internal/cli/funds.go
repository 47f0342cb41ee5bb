package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/ledger"
)

// BalanceResult is the output of the fund and balance commands.
type BalanceResult struct {
	Account  ir.Account `json:"account"`
	Free     ir.Balance `json:"free"`
	Reserved ir.Balance `json:"reserved"`
}

// Text implements texter.
func (r BalanceResult) Text() string {
	return fmt.Sprintf("%s: free %d, reserved %d", r.Account, r.Free, r.Reserved)
}

func balanceResult(account ir.Account, funds ledger.Funds) BalanceResult {
	return BalanceResult{Account: account, Free: funds.Free, Reserved: funds.Reserved}
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	var amount uint64

	cmd := &cobra.Command{
		Use:   "fund <account>",
		Short: "Credit free balance to an account",
		Long: `Credit free balance to an account so it can pay query deposits.

Example:
  courier fund alice --amount 100000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			account := ir.Account(args[0])
			return withRuntime(rootOpts, cmd, "fund", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				if err := rt.ledger.Credit(ctx, account, ir.Balance(amount)); err != nil {
					return f.Fail("fund", err)
				}
				funds, err := rt.ledger.Balance(ctx, account)
				if err != nil {
					return f.Fail("fund", err)
				}
				return f.Success(balanceResult(account, funds))
			})
		},
	}

	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to credit (required)")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show the free and reserved balance of an account",
		Long: `Show the free and reserved balance of an account.

Example:
  courier balance alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			account := ir.Account(args[0])
			return withRuntime(rootOpts, cmd, "balance", func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				funds, err := rt.ledger.Balance(ctx, account)
				if err != nil {
					return f.Fail("balance", err)
				}
				return f.Success(balanceResult(account, funds))
			})
		},
	}
}
