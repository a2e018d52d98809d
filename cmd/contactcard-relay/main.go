// Command contactcard-relay runs the stateless model relay. It holds the
// managed-mode API key and forwards client requests to the provider.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scrypster/contactcard/internal/config"
	"github.com/scrypster/contactcard/internal/logger"
	"github.com/scrypster/contactcard/internal/relay"
	"github.com/scrypster/contactcard/internal/server"
)

func newRouter(cfg config.RelayConfig, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(relay.New(relay.Config{
		UpstreamURL:      cfg.UpstreamURL,
		APIKey:           cfg.APIKey,
		AnthropicVersion: cfg.AnthropicVersion,
		DefaultModel:     cfg.DefaultModel,
	}, log))
	return r
}

func main() {
	var configFile string
	root := &cobra.Command{
		Use:          "contactcard-relay",
		Short:        "Forward model requests to the provider",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfigFile(configFile)
			if err != nil {
				return err
			}
			log := logger.New("contactcard-relay", cfg.LogLevel)
			if cfg.Relay.APIKey == "" {
				log.Warn().Msg("no server API key set; managed requests will be rejected upstream")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := net.JoinHostPort(cfg.Relay.Host, strconv.Itoa(cfg.Relay.Port))
			bound, err := server.Start(ctx, addr, newRouter(cfg.Relay, log), log)
			if err != nil {
				return err
			}
			log.Info().Str("addr", bound).Str("upstream", cfg.Relay.UpstreamURL).Msg("relay running")

			<-ctx.Done()
			return nil
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG_FILE"), "YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
