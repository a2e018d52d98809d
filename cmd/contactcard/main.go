// Command contactcard runs the people-notes server and offers local
// commands for recording entries, asking questions and managing people.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scrypster/contactcard/internal/config"
	"github.com/scrypster/contactcard/internal/logger"
	"github.com/scrypster/contactcard/internal/notify"
	"github.com/scrypster/contactcard/internal/server"
	"github.com/scrypster/contactcard/internal/storage"
)

var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "contactcard",
		Short:         "Remember the people you meet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG_FILE"), "YAML config file")

	root.AddCommand(
		newServeCmd(),
		newRecordCmd(),
		newAskCmd(),
		newPeopleCmd(),
		newCreditsCmd(),
		newBackupCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfigFile(configFile)
}

// cliLogger logs to stderr so command output on stdout stays clean.
func cliLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logger.NewWithWriter(w, "contactcard-cli", cfg.LogLevel)
}

// localApp is an App opened by a one-shot command. Events it raises are
// written to the events directory so a running server picks them up.
type localApp struct {
	*server.App
	store   storage.Store
	drained chan struct{}
}

func openLocal(ctx context.Context, cmd *cobra.Command) (*localApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := cliLogger(cfg, cmd.ErrOrStderr())

	store, err := server.OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	app, err := server.New(ctx, cfg, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	l := &localApp{App: app, store: store, drained: make(chan struct{})}
	sub, _ := app.Bus.Subscribe()
	writer := notify.NewEventWriter(cfg.Storage.DataPath)
	go func() {
		defer close(l.drained)
		for e := range sub {
			if err := writer.Notify(e); err != nil {
				log.Debug().Err(err).Msg("failed to write event file")
			}
		}
	}()
	return l, nil
}

func (l *localApp) close() {
	l.App.Close()
	<-l.drained
	_ = l.store.Close()
}
