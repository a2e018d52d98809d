package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/config"
	"github.com/scrypster/contactcard/internal/contacts"
	"github.com/scrypster/contactcard/internal/credits"
	"github.com/scrypster/contactcard/internal/engine"
	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/internal/secrets"
	"github.com/scrypster/contactcard/internal/storage"
	"github.com/scrypster/contactcard/pkg/types"
)

// ModeSwitcher reads and changes the credential mode used for model calls.
type ModeSwitcher interface {
	Mode() string
	SetMode(mode string) error
}

// CircuitState reports the model circuit breaker state.
type CircuitState interface {
	State() string
}

// Deps are the collaborators of the API handlers.
type Deps struct {
	Config    *config.Config
	Store     storage.Store
	Pipeline  *engine.Pipeline
	Contacts  contacts.Reader
	Credits   *credits.Ledger
	Keys      secrets.Store
	Modes     ModeSwitcher
	Circuit   CircuitState
	Publisher events.Publisher
	Logger    zerolog.Logger
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	cfg      *config.Config
	store    storage.Store
	pipeline *engine.Pipeline
	contacts contacts.Reader
	credits  *credits.Ledger
	keys     secrets.Store
	modes    ModeSwitcher
	circuit  CircuitState
	pub      events.Publisher
	log      zerolog.Logger
}

// NewAPIHandlers creates the API handlers.
func NewAPIHandlers(d Deps) *APIHandlers {
	reader := d.Contacts
	if reader == nil {
		reader = contacts.StaticReader(nil)
	}
	return &APIHandlers{
		cfg:      d.Config,
		store:    d.Store,
		pipeline: d.Pipeline,
		contacts: reader,
		credits:  d.Credits,
		keys:     d.Keys,
		modes:    d.Modes,
		circuit:  d.Circuit,
		pub:      events.OrDiscard(d.Publisher),
		log:      d.Logger,
	}
}

func pathInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)[name])
	return n, err == nil
}

// ---- entries and reviews ----

type createEntryRequest struct {
	Transcript string `json:"transcript" validate:"required"`
}

// CreateEntry handles POST /api/entries.
func (h *APIHandlers) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	review, err := h.pipeline.Submit(r.Context(), req.Transcript)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, review.View())
}

// RetryEntry handles POST /api/entries/{id}/retry.
func (h *APIHandlers) RetryEntry(w http.ResponseWriter, r *http.Request) {
	review, err := h.pipeline.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, review.View())
}

// ListEntries handles GET /api/entries?limit=N.
func (h *APIHandlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.store.ListEntries(r.Context(), limit)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if entries == nil {
		entries = []*types.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListReviews handles GET /api/reviews.
func (h *APIHandlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	open := h.pipeline.Reviews()
	views := make([]reconcile.View, 0, len(open))
	for _, rv := range open {
		views = append(views, rv.View())
	}
	respondJSON(w, http.StatusOK, map[string]any{"reviews": views})
}

// GetReview handles GET /api/reviews/{id}.
func (h *APIHandlers) GetReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.pipeline.Review(mux.Vars(r)["id"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, review.View())
}

type selectionRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=new_person external_contact"`
	ContactID string `json:"contact_id" validate:"required_if=Kind external_contact"`
}

// SelectMention handles POST /api/reviews/{id}/mentions/{index}/selection.
func (h *APIHandlers) SelectMention(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(r, "index")
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "mention index must be a number", nil)
		return
	}
	var req selectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	id := mux.Vars(r)["id"]
	var (
		review *reconcile.Review
		err    error
	)
	if req.Kind == "external_contact" {
		review, err = h.pipeline.SelectExternalContact(id, index, req.ContactID)
	} else {
		review, err = h.pipeline.SelectNewPerson(id, index)
	}
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, review.View())
}

// EditFact handles PATCH /api/reviews/{id}/mentions/{index}/facts/{fact}.
func (h *APIHandlers) EditFact(w http.ResponseWriter, r *http.Request) {
	index, ok1 := pathInt(r, "index")
	fact, ok2 := pathInt(r, "fact")
	if !ok1 || !ok2 {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "indexes must be numbers", nil)
		return
	}
	var edit reconcile.FactEdit
	if err := decodeJSON(w, r, &edit); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	review, err := h.pipeline.EditFact(mux.Vars(r)["id"], index, fact, edit)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, review.View())
}

// CommitReview handles POST /api/reviews/{id}/commit.
func (h *APIHandlers) CommitReview(w http.ResponseWriter, r *http.Request) {
	res, err := h.pipeline.Commit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// DiscardReview handles DELETE /api/reviews/{id}.
func (h *APIHandlers) DiscardReview(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Discard(mux.Vars(r)["id"]); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- query ----

type queryRequest struct {
	Question string `json:"question" validate:"required"`
}

// Query handles POST /api/query.
func (h *APIHandlers) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	answer, err := h.pipeline.Ask(r.Context(), req.Question)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// ---- people and facts ----

// ListPeople handles GET /api/people.
func (h *APIHandlers) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.store.ListPeople(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	if people == nil {
		people = []*types.Person{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"people": people})
}

// GetPerson handles GET /api/people/{id}.
func (h *APIHandlers) GetPerson(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPerson(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type createPersonRequest struct {
	Name      string   `json:"name" validate:"required"`
	Aliases   []string `json:"aliases"`
	Summary   string   `json:"summary"`
	ContactID string   `json:"contact_id"`
}

// CreatePerson handles POST /api/people for manual entry.
func (h *APIHandlers) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req createPersonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	p := &types.Person{Name: strings.TrimSpace(req.Name), Aliases: []string{}, Summary: req.Summary}
	p.MergeAliases(req.Aliases...)
	if req.ContactID != "" {
		if _, ok := h.contacts.Get(req.ContactID); !ok {
			respondFailure(w, engine.ErrUnknownContact)
			return
		}
		p.SetExternalLink(req.ContactID)
	}
	if err := h.store.CreatePerson(r.Context(), p); err != nil {
		respondFailure(w, err)
		return
	}
	h.pub.Publish(events.Event{Type: events.PeopleChanged, Subject: p.ID})
	respondJSON(w, http.StatusCreated, p)
}

// DeletePerson handles DELETE /api/people/{id}. Facts go with the person.
func (h *APIHandlers) DeletePerson(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeletePerson(r.Context(), id); err != nil {
		respondFailure(w, err)
		return
	}
	h.pub.Publish(events.Event{Type: events.PeopleChanged, Subject: id})
	w.WriteHeader(http.StatusNoContent)
}

type createFactRequest struct {
	Category string `json:"category" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

// CreateFact handles POST /api/people/{id}/facts. Manual facts have no
// source transcript.
func (h *APIHandlers) CreateFact(w http.ResponseWriter, r *http.Request) {
	var req createFactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	personID := mux.Vars(r)["id"]
	f := &types.Fact{
		PersonID: personID,
		Category: strings.TrimSpace(req.Category),
		Content:  strings.TrimSpace(req.Content),
	}
	err := h.store.WithTx(r.Context(), func(tx storage.Tx) error {
		p, err := tx.GetPerson(r.Context(), personID)
		if err != nil {
			return err
		}
		if err := tx.CreateFact(r.Context(), f); err != nil {
			return err
		}
		p.UpdatedAt = f.CreatedAt
		return tx.UpdatePerson(r.Context(), p)
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	h.pub.Publish(events.Event{Type: events.PeopleChanged, Subject: personID})
	respondJSON(w, http.StatusCreated, f)
}

// DeleteFact handles DELETE /api/facts/{id}.
func (h *APIHandlers) DeleteFact(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteFact(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondFailure(w, err)
		return
	}
	h.pub.Publish(events.Event{Type: events.PeopleChanged})
	w.WriteHeader(http.StatusNoContent)
}

// ---- address book ----

// ListContacts handles GET /api/contacts.
func (h *APIHandlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	snapshot := h.contacts.Snapshot()
	if snapshot == nil {
		snapshot = []types.ExternalContact{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"contacts": snapshot})
}

// ---- credits ----

type creditsResponse struct {
	Balance int    `json:"balance"`
	IsLow   bool   `json:"is_low"`
	Mode    string `json:"mode"`
}

func (h *APIHandlers) creditStatus(ctx context.Context) (creditsResponse, error) {
	n, err := h.credits.Balance(ctx)
	if err != nil {
		return creditsResponse{}, err
	}
	return creditsResponse{
		Balance: n,
		IsLow:   n > 0 && n <= credits.LowThreshold,
		Mode:    h.modes.Mode(),
	}, nil
}

// GetCredits handles GET /api/credits.
func (h *APIHandlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	status, err := h.creditStatus(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type restoreRequest struct {
	Transactions []credits.Transaction `json:"transactions" validate:"dive"`
}

// RestoreCredits handles POST /api/credits/restore. Unverified transactions
// are skipped without error.
func (h *APIHandlers) RestoreCredits(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	added, err := h.credits.Restore(r.Context(), req.Transactions)
	if err != nil {
		respondFailure(w, err)
		return
	}
	status, err := h.creditStatus(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"added": added, "credits": status})
}

// ---- settings ----

type settingsResponse struct {
	Mode   string `json:"mode"`
	HasKey bool   `json:"has_key"`
}

// GetSettings handles GET /api/settings. The key itself is never returned.
func (h *APIHandlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	has, err := h.keys.Has(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settingsResponse{Mode: h.modes.Mode(), HasKey: has})
}

type settingsRequest struct {
	Mode string `json:"mode" validate:"required,oneof=managed byok"`
}

// UpdateSettings handles PUT /api/settings.
func (h *APIHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if err := h.modes.SetMode(req.Mode); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	h.cfg.Client.Mode = req.Mode
	if err := h.cfg.SaveUserSettings(r.Context(), h.store); err != nil {
		respondFailure(w, err)
		return
	}
	h.log.Info().Str("mode", req.Mode).Msg("credential mode changed")
	h.GetSettings(w, r)
}

type apiKeyRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// SetAPIKey handles PUT /api/settings/key.
func (h *APIHandlers) SetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "api_key is required", nil)
		return
	}
	key := []byte(strings.TrimSpace(req.APIKey))
	defer clear(key)
	if err := h.keys.Set(r.Context(), key); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAPIKey handles DELETE /api/settings/key.
func (h *APIHandlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Delete(r.Context()); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- health ----

// Health handles GET /health.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "busy": h.pipeline.Busy()}
	if h.circuit != nil {
		resp["circuit"] = h.circuit.State()
	}
	respondJSON(w, http.StatusOK, resp)
}

