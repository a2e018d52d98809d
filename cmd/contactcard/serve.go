package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/contactcard/internal/logger"
	"github.com/scrypster/contactcard/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and live event stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.New("contactcard", cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := server.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			app, err := server.New(ctx, cfg, store, log)
			if err != nil {
				return err
			}
			defer app.Close()

			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			bound, err := server.Start(ctx, addr, app.Handler(), log)
			if err != nil {
				return err
			}
			log.Info().Str("addr", bound).Str("storage", cfg.Storage.Engine).
				Str("mode", app.Client.Mode()).Msg("contactcard server running")
			fmt.Fprintf(cmd.ErrOrStderr(), "listening on http://%s\n", bound)

			<-ctx.Done()
			log.Info().Msg("shutting down")
			return nil
		},
	}
}
