package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/contactcard/internal/engine"
	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/internal/llm"
	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/internal/voice"
)

func newRecordCmd() *cobra.Command {
	var (
		commit      bool
		unresolved  string
		showPartial bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an entry from stdin and extract the people in it",
		Long: `Reads the entry one phrase per line until end of input or Ctrl+C, then
extracts people and facts. With --commit the review is saved when every
mention is resolved; --unresolved=new resolves ambiguous mentions as new
people first. Without --commit the review is printed and discarded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if unresolved != "" && unresolved != "new" {
				return fmt.Errorf("--unresolved must be \"new\"")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var pub events.Publisher
			if showPartial {
				pub = partialEcho{w: cmd.ErrOrStderr()}
			}
			rec := voice.NewRecorder(voice.NewLineTranscriber(cmd.InOrStdin()), pub, cliLogger(cfg, cmd.ErrOrStderr()))
			// The first Ctrl+C ends the recording; the next one aborts.
			recCtx, stopRec := signal.NotifyContext(context.Background(), os.Interrupt)
			transcript, err := capture(recCtx, rec)
			stopRec()
			if err != nil {
				return err
			}
			if strings.TrimSpace(transcript) == "" {
				return errors.New("nothing recorded")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			app, err := openLocal(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.close()

			review, err := app.Pipeline.Submit(ctx, transcript)
			if err != nil {
				var ee *engine.ExtractionError
				if errors.As(err, &ee) {
					return fmt.Errorf("%s (entry %s saved)", llm.UserMessage(err), ee.EntryID)
				}
				return err
			}

			if unresolved == "new" {
				for i, m := range review.Mentions() {
					if m.State == reconcile.StateUnresolved {
						if _, err := app.Pipeline.SelectNewPerson(review.ID, i); err != nil {
							return err
						}
					}
				}
			}

			if !commit {
				return printJSON(cmd.OutOrStdout(), review.View())
			}
			res, err := app.Pipeline.Commit(ctx, review.ID)
			if errors.Is(err, reconcile.ErrUnresolved) {
				_ = printJSON(cmd.OutOrStdout(), review.View())
				return errors.New("some mentions are ambiguous; rerun with --unresolved=new or resolve them in the app")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", false, "save the review when every mention is resolved")
	cmd.Flags().StringVar(&unresolved, "unresolved", "", `resolve ambiguous mentions: "new"`)
	cmd.Flags().BoolVar(&showPartial, "partial", false, "echo the running transcript to stderr")
	return cmd
}

// capture runs one recording session and returns the final transcript.
func capture(ctx context.Context, rec *voice.Recorder) (string, error) {
	if err := rec.Start(ctx); err != nil {
		return "", err
	}
	<-rec.Done()
	text := rec.Stop()
	if err := rec.Err(); err != nil {
		return "", err
	}
	return text, nil
}

// partialEcho prints the running transcript.
type partialEcho struct {
	w io.Writer
}

func (p partialEcho) Publish(e events.Event) {
	switch e.Type {
	case events.RecordingStarted:
		fmt.Fprintln(p.w, "recording; end input or press Ctrl+C to stop")
	case events.TranscriptPartial:
		fmt.Fprintf(p.w, "> %v\n", e.Data)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
