package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/contactcard/internal/credits"
	"github.com/scrypster/contactcard/internal/llm"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the people you know",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			app, err := openLocal(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.close()

			answer, err := app.Pipeline.Ask(ctx, strings.Join(args, " "))
			switch {
			case errors.Is(err, credits.ErrInsufficient):
				return errors.New("no credits left; add credits or switch to your own API key")
			case err != nil:
				return errors.New(llm.UserMessage(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}
