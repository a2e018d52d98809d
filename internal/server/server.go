// Package server assembles the contactcard application from configuration
// and runs its HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/config"
	"github.com/scrypster/contactcard/internal/contacts"
	"github.com/scrypster/contactcard/internal/credits"
	"github.com/scrypster/contactcard/internal/engine"
	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/internal/llm"
	"github.com/scrypster/contactcard/internal/notify"
	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/internal/secrets"
	"github.com/scrypster/contactcard/internal/storage"
	"github.com/scrypster/contactcard/internal/storage/postgres"
	"github.com/scrypster/contactcard/internal/storage/sqlite"
	"github.com/scrypster/contactcard/web/handlers"
)

// OpenStore opens the storage backend selected by cfg.
func OpenStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("server: failed to create data dir: %w", err)
		}
		return sqlite.NewStore(cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("server: unsupported storage engine %q", cfg.Storage.Engine)
	}
}

// App holds the wired collaborators of a running instance.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Bus      *events.Bus
	Contacts *contacts.FileReader
	Keys     *secrets.FileStore
	Client   *llm.RelayClient
	Credits  *credits.Ledger
	Pipeline *engine.Pipeline

	log     zerolog.Logger
	hub     *handlers.WebSocketHub
	watcher *notify.EventWatcher
}

// New wires an App over store. Stored user settings are applied to cfg and
// the one-time free credit grant is issued. The caller owns store.
func New(ctx context.Context, cfg *config.Config, store storage.Store, log zerolog.Logger) (*App, error) {
	if err := cfg.ApplyStoredSettings(ctx, store); err != nil {
		return nil, err
	}

	bus := events.NewBus(events.DefaultBuffer)
	app := &App{Config: cfg, Store: store, Bus: bus, log: log}

	book, err := contacts.NewFileReader(cfg.Contacts.File, bus, log)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("server: failed to load address book: %w", err)
	}
	app.Contacts = book

	app.Keys = secrets.NewFileStore(cfg.KeyFile())
	app.Client = llm.NewRelayClient(llm.RelayConfig{
		URL:     cfg.Client.RelayURL,
		Mode:    cfg.Client.Mode,
		Model:   cfg.Client.Model,
		Timeout: cfg.Client.Timeout,
	}, app.Keys, log)

	app.Credits = credits.NewLedger(store, cfg.Credits.FreeGrant, bus, log)
	if _, err := app.Credits.GrantFreeCreditsIfNeeded(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("server: failed to grant free credits: %w", err)
	}

	app.Pipeline, err = engine.NewPipeline(engine.Config{
		Store:     store,
		Contacts:  book,
		Completer: app.Client,
		Reviews:   reconcile.NewRegistry(),
		Mode:      app.Client.Mode,
		Credits:   app.Credits,
		Publisher: bus,
		Logger:    log,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}
	return app, nil
}

// Handler builds the HTTP handler and starts the live event plumbing: the
// WebSocket hub fed from the bus, address-book reloads and the events
// directory written by other processes.
func (a *App) Handler() http.Handler {
	origins := []string{
		net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port)),
		net.JoinHostPort("localhost", strconv.Itoa(a.Config.Server.Port)),
	}
	a.hub = handlers.NewWebSocketHub(origins, a.log)
	go a.hub.Run()
	sub, _ := a.Bus.Subscribe()
	go a.hub.Forward(sub)

	if a.Config.Contacts.File != "" {
		if err := a.Contacts.Watch(); err != nil {
			a.log.Warn().Err(err).Msg("address book watch disabled")
		}
	}

	a.watcher = notify.NewEventWatcher(a.Config.Storage.DataPath, a.Bus, a.log)
	if err := a.watcher.Start(); err != nil {
		a.log.Warn().Err(err).Msg("event directory watch disabled")
		a.watcher = nil
	}

	api := handlers.NewAPIHandlers(handlers.Deps{
		Config:    a.Config,
		Store:     a.Store,
		Pipeline:  a.Pipeline,
		Contacts:  a.Contacts,
		Credits:   a.Credits,
		Keys:      a.Keys,
		Modes:     a.Client,
		Circuit:   a.Client.Breaker(),
		Publisher: a.Bus,
		Logger:    a.log,
	})
	return handlers.NewRouter(api, a.hub, a.Config, a.log)
}

// Close stops background work. It does not close the store.
func (a *App) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.Contacts.Close()
	if a.hub != nil {
		a.hub.Stop()
	}
	a.Bus.Close()
}

// Start listens on addr and serves handler until ctx is cancelled. It
// returns the bound address, which differs from addr when the port is 0.
func Start(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Extraction calls can take most of the client timeout.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	return listener.Addr().String(), nil
}
