package main

import (
	"fmt"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <identifier>",
		Short: "Classify a transfer recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			return printJSON(cmd, a.Services.Recipients.Classify(cmd.Context(), args[0]))
		},
	}
}

func newFeesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "fees <amount> <conversion-type>",
		Short:   "Quote fees for a conversion",
		Example: `  assetrouter fees 1000 FIAT_TO_CRYPTO`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			ct, err := models.ParseConversionType(args[1])
			if err != nil {
				return err
			}

			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			fb, err := a.Services.Fees.ComputeFees(amount, ct)
			if err != nil {
				return err
			}
			return printJSON(cmd, fb)
		},
	}
}

func newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <from> <to>",
		Short: "Look up a conversion rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			q, err := a.Services.Rates.GetRate(cmd.Context(), args[0], args[1], "", "")
			if err != nil {
				return err
			}
			return printJSON(cmd, q)
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <user-id>",
		Short: "Compute a user's unified balance snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := a.Services.Balances.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
}
