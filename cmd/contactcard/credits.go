package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCreditsCmd() *cobra.Command {
	var add int
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show the managed-mode credit balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			app, err := openLocal(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.close()

			if add > 0 {
				if err := app.Credits.Add(ctx, add); err != nil {
					return err
				}
			}
			n, err := app.Credits.Balance(ctx)
			if err != nil {
				return err
			}
			low, err := app.Credits.IsLow(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Mode:    %s\n", app.Client.Mode())
			fmt.Fprintf(out, "Balance: %d\n", n)
			switch {
			case n == 0:
				fmt.Fprintln(out, "No credits left. Add credits or use your own API key.")
			case low:
				fmt.Fprintln(out, "Running low on credits.")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&add, "add", 0, "add credits before showing the balance")
	return cmd
}
