package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/internal/storage"
)

func newPeopleCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "people",
		Short: "List, show and delete people",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "output JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List everyone with their fact counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			app, err := openLocal(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.close()

			people, err := app.Store.ListPeople(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), people)
			}
			if len(people) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No people yet.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tALIASES\tFACTS")
			for _, p := range people {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.ID, p.Name, strings.Join(p.Aliases, ", "), len(p.Facts))
			}
			return tw.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one person and their facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, err := openLocal(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.close()

			p, err := app.Store.GetPerson(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no person with id %s", args[0])
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), p)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, p.Name)
			if len(p.Aliases) > 0 {
				fmt.Fprintf(out, "  aka %s\n", strings.Join(p.Aliases, ", "))
			}
			if link := p.ExternalLink(); link != "" {
				fmt.Fprintf(out, "  contact %s\n", link)
			}
			if p.Summary != "" {
				fmt.Fprintf(out, "  %s\n", p.Summary)
			}
			for _, f := range p.Facts {
				fmt.Fprintf(out, "  [%s] %s\n", f.Category, f.Content)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a person and all their facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, err := openLocal(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.Store.DeletePerson(ctx, args[0]); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no person with id %s", args[0])
				}
				return err
			}
			app.Bus.Publish(events.Event{Type: events.PeopleChanged, Subject: args[0]})
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
