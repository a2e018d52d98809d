package handlers

import (
	"errors"
	"net/http"

	"github.com/scrypster/contactcard/internal/credits"
	"github.com/scrypster/contactcard/internal/engine"
	"github.com/scrypster/contactcard/internal/llm"
	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/internal/secrets"
	"github.com/scrypster/contactcard/internal/storage"
)

// respondFailure maps a domain error to a status code and writes it. Model
// failures carry their user-facing message.
func respondFailure(w http.ResponseWriter, err error) {
	var details map[string]any
	var ee *engine.ExtractionError
	if errors.As(err, &ee) {
		details = map[string]any{"entry_id": ee.EntryID}
	}

	var (
		rf *llm.RequestFailure
		uf *llm.UpstreamFailure
		mr *llm.MalformedResponse
	)
	switch {
	case errors.Is(err, engine.ErrBusy):
		respondError(w, http.StatusConflict, "BUSY", "another request is in progress", details)
	case errors.Is(err, reconcile.ErrUnresolved):
		respondError(w, http.StatusConflict, "UNRESOLVED", "resolve every mention before saving", details)
	case errors.Is(err, reconcile.ErrCommitted):
		respondError(w, http.StatusConflict, "COMMITTED", "review already saved", details)
	case errors.Is(err, credits.ErrInsufficient):
		respondError(w, http.StatusPaymentRequired, "NO_CREDITS", "no credits left; add credits or use your own API key", details)
	case errors.Is(err, engine.ErrEmptyInput):
		respondError(w, http.StatusBadRequest, "EMPTY_INPUT", err.Error(), details)
	case errors.Is(err, engine.ErrUnknownContact), errors.Is(err, reconcile.ErrInvalidSelection):
		respondError(w, http.StatusBadRequest, "INVALID_SELECTION", err.Error(), details)
	case errors.Is(err, reconcile.ErrOutOfRange):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), details)
	case errors.Is(err, reconcile.ErrReviewNotFound), errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), details)
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, secrets.ErrNoKey):
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), details)
	case errors.As(err, &uf):
		respondError(w, http.StatusBadGateway, "UPSTREAM_FAILURE", uf.UserMessage(), details)
	case errors.As(err, &mr):
		respondError(w, http.StatusBadGateway, "MALFORMED_RESPONSE", mr.UserMessage(), details)
	case errors.As(err, &rf):
		respondError(w, http.StatusServiceUnavailable, "REQUEST_FAILED", rf.UserMessage(), details)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error", details)
	}
}
