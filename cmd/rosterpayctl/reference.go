package main

import (
	"fmt"
	"time"

	"github.com/smallbiznis/rosterpay/internal/reference"
	"github.com/spf13/cobra"
)

func referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Encode and decode processor payment references",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode [item-id] [request-id]",
		Short: "Build the payment reference for a change request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), reference.Encode(args[0], args[1]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decode [reference]",
		Short: "Recover the change request id from a payment reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := reference.Decode(args[0])
			if !ok {
				return fmt.Errorf("reference %q does not embed a request id", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	var at string
	diagnostic := &cobra.Command{
		Use:   "diagnostic [team-id] [captain-id] [event-id]",
		Short: "Build a support reference for a payment with no request id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now()
			if at != "" {
				parsed, err := time.Parse("2006-01-02", at)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				when = parsed
			}
			fmt.Fprintln(cmd.OutOrStdout(), reference.EncodeDiagnostic(when, args[0], args[1], args[2]))
			return nil
		},
	}
	diagnostic.Flags().StringVar(&at, "date", "", "date to stamp the reference with (YYYY-MM-DD)")
	cmd.AddCommand(diagnostic)

	return cmd
}
