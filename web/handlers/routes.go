package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/config"
)

// NewRouter wires the REST API, the event stream, health and metrics.
// hub may be nil when no live event stream is served.
func NewRouter(api *APIHandlers, hub *WebSocketHub, cfg *config.Config, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", api.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if hub != nil {
		r.Handle("/ws", RequireAuth(hub, cfg.Security))
	}

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/entries", api.CreateEntry).Methods(http.MethodPost)
	s.HandleFunc("/entries", api.ListEntries).Methods(http.MethodGet)
	s.HandleFunc("/entries/{id}/retry", api.RetryEntry).Methods(http.MethodPost)

	s.HandleFunc("/reviews", api.ListReviews).Methods(http.MethodGet)
	s.HandleFunc("/reviews/{id}", api.GetReview).Methods(http.MethodGet)
	s.HandleFunc("/reviews/{id}", api.DiscardReview).Methods(http.MethodDelete)
	s.HandleFunc("/reviews/{id}/mentions/{index}/selection", api.SelectMention).Methods(http.MethodPost)
	s.HandleFunc("/reviews/{id}/mentions/{index}/facts/{fact}", api.EditFact).Methods(http.MethodPatch)
	s.HandleFunc("/reviews/{id}/commit", api.CommitReview).Methods(http.MethodPost)

	s.HandleFunc("/query", api.Query).Methods(http.MethodPost)

	s.HandleFunc("/people", api.ListPeople).Methods(http.MethodGet)
	s.HandleFunc("/people", api.CreatePerson).Methods(http.MethodPost)
	s.HandleFunc("/people/{id}", api.GetPerson).Methods(http.MethodGet)
	s.HandleFunc("/people/{id}", api.DeletePerson).Methods(http.MethodDelete)
	s.HandleFunc("/people/{id}/facts", api.CreateFact).Methods(http.MethodPost)
	s.HandleFunc("/facts/{id}", api.DeleteFact).Methods(http.MethodDelete)

	s.HandleFunc("/contacts", api.ListContacts).Methods(http.MethodGet)

	s.HandleFunc("/credits", api.GetCredits).Methods(http.MethodGet)
	s.HandleFunc("/credits/restore", api.RestoreCredits).Methods(http.MethodPost)

	s.HandleFunc("/settings", api.GetSettings).Methods(http.MethodGet)
	s.HandleFunc("/settings", api.UpdateSettings).Methods(http.MethodPut)
	s.HandleFunc("/settings/key", api.SetAPIKey).Methods(http.MethodPut)
	s.HandleFunc("/settings/key", api.DeleteAPIKey).Methods(http.MethodDelete)

	limiter := NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	s.Use(func(next http.Handler) http.Handler { return RateLimitMiddleware(next, limiter) })
	s.Use(func(next http.Handler) http.Handler { return RequireAuth(next, cfg.Security) })

	return SecurityHeaders(RequestLogger(r, log))
}
