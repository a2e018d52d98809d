// Package relay is the stateless forwarder between clients and the model
// provider. It attaches a credential, injects max_tokens, and passes the
// provider's status and body back untouched. It never retries or caches.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MaxTokens is injected into every upstream request.
	MaxTokens = 2048

	// DefaultModel is used when the request names none.
	DefaultModel = "claude-sonnet-4-5-20250929"

	// DefaultAnthropicVersion is sent as the anthropic-version header.
	DefaultAnthropicVersion = "2023-06-01"

	// DefaultUpstreamURL is the provider's messages endpoint.
	DefaultUpstreamURL = "https://api.anthropic.com/v1/messages"

	maxBodyBytes = 4 << 20
)

// Config configures the relay handler.
type Config struct {
	UpstreamURL      string
	APIKey           string // server-held credential for managed mode
	AnthropicVersion string
	DefaultModel     string
	Client           *http.Client // nil means a client without a timeout
}

// Handler forwards model requests upstream.
type Handler struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New creates a relay handler.
func New(cfg Config, log zerolog.Logger) *Handler {
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = DefaultAnthropicVersion
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Handler{cfg: cfg, client: client, log: log}
}

// request is the client wire format.
type request struct {
	Mode         string          `json:"mode"`
	APIKey       string          `json:"apiKey"`
	Messages     json.RawMessage `json:"messages"`
	Model        string          `json:"model"`
	OutputConfig json.RawMessage `json:"output_config"`
}

// upstreamRequest is what the provider receives.
type upstreamRequest struct {
	Model        string          `json:"model"`
	MaxTokens    int             `json:"max_tokens"`
	Messages     json.RawMessage `json:"messages,omitempty"`
	OutputConfig json.RawMessage `json:"output_config,omitempty"`
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// decodeRequest accepts exactly one JSON object and nothing after it.
func decodeRequest(body io.Reader) (*request, error) {
	dec := json.NewDecoder(body)
	var req *request
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("body is not an object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("trailing data after request object")
	}
	return req, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := decodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		requestsTotal.WithLabelValues("unknown", "400").Inc()
		h.log.Debug().Err(err).Msg("relay: rejected body")
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	mode, key := "managed", h.cfg.APIKey
	if req.Mode == "byok" && req.APIKey != "" {
		mode, key = "byok", req.APIKey
	}

	model := req.Model
	if model == "" {
		model = h.cfg.DefaultModel
	}
	outputConfig := nullToNil(req.OutputConfig)
	payload, err := json.Marshal(upstreamRequest{
		Model:        model,
		MaxTokens:    MaxTokens,
		Messages:     req.Messages,
		OutputConfig: outputConfig,
	})
	if err != nil {
		requestsTotal.WithLabelValues(mode, "400").Inc()
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	up, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.cfg.UpstreamURL, bytes.NewReader(payload))
	if err != nil {
		h.log.Error().Err(err).Msg("relay: failed to build upstream request")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	up.Header.Set("Content-Type", "application/json")
	up.Header.Set("x-api-key", key)
	up.Header.Set("anthropic-version", h.cfg.AnthropicVersion)

	start := time.Now()
	resp, err := h.client.Do(up)
	upstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(mode, "502").Inc()
		h.log.Warn().Err(err).Str("mode", mode).Msg("relay: upstream request failed")
		writeError(w, http.StatusBadGateway, "Upstream request failed")
		return
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	requestsTotal.WithLabelValues(mode, status).Inc()
	h.log.Info().Str("mode", mode).Str("model", model).Int("status", resp.StatusCode).
		Bool("structured", len(outputConfig) > 0).
		Dur("duration", time.Since(start)).Msg("relay: forwarded")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Warn().Err(err).Msg("relay: failed to stream upstream body")
	}
}

// nullToNil treats an explicit JSON null as absent.
func nullToNil(raw json.RawMessage) json.RawMessage {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
