package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/scrypster/contactcard/internal/config"
)

func TestRouter_HealthAndRelay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-server", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer upstream.Close()

	h := newRouter(config.RelayConfig{UpstreamURL: upstream.URL, APIKey: "sk-server"}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"managed","messages":[]}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":[]}`, rec.Body.String())
}

func TestRouter_NonPostIsRejectedByRelay(t *testing.T) {
	h := newRouter(config.RelayConfig{UpstreamURL: "http://127.0.0.1:1"}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_MetricsCountRelayedRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	h := newRouter(config.RelayConfig{UpstreamURL: upstream.URL, APIKey: "sk-server"}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"byok","apiKey":"sk-user","messages":[]}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `contactcard_relay_requests_total{mode="byok",status="429"}`)
	assert.Contains(t, rec.Body.String(), "contactcard_relay_upstream_duration_seconds")
}
