package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Credential modes understood by the relay.
const (
	ModeManaged = "managed"
	ModeBYOK    = "byok"
)

// RelayConfig holds configuration for the relay client.
type RelayConfig struct {
	URL     string        // relay endpoint
	Mode    string        // managed | byok, default managed
	Model   string        // default: claude-sonnet-4-5-20250929
	Timeout time.Duration // default: 90s
}

// RelayClient implements Completer by posting to the relay service.
type RelayClient struct {
	http           *resty.Client
	keys           KeySource
	circuitBreaker *CircuitBreaker
	log            zerolog.Logger

	mu  sync.RWMutex
	cfg RelayConfig
}

// NewRelayClient creates a relay client. keys may be nil when BYOK is never
// used.
func NewRelayClient(cfg RelayConfig, keys KeySource, log zerolog.Logger) *RelayClient {
	if cfg.Mode == "" {
		cfg.Mode = ModeManaged
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &RelayClient{
		http:           client,
		keys:           keys,
		circuitBreaker: NewCircuitBreaker(log),
		log:            log,
		cfg:            cfg,
	}
}

// Mode returns the current credential mode.
func (c *RelayClient) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Mode
}

// SetMode switches between managed and byok.
func (c *RelayClient) SetMode(mode string) error {
	if mode != ModeManaged && mode != ModeBYOK {
		return fmt.Errorf("llm: unknown mode %q", mode)
	}
	c.mu.Lock()
	c.cfg.Mode = mode
	c.mu.Unlock()
	return nil
}

// Model returns the configured model identifier.
func (c *RelayClient) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Model
}

// Breaker exposes the circuit breaker for health reporting.
func (c *RelayClient) Breaker() *CircuitBreaker { return c.circuitBreaker }

type relayRequest struct {
	Mode         string        `json:"mode"`
	APIKey       string        `json:"apiKey,omitempty"`
	Messages     []Message     `json:"messages"`
	Model        string        `json:"model"`
	OutputConfig *outputConfig `json:"output_config,omitempty"`
}

type outputConfig struct {
	Format outputFormat `json:"format"`
}

type outputFormat struct {
	Type   string         `json:"type"`
	Schema map[string]any `json:"schema"`
}

// Complete sends req through the relay and returns content[0].text.
func (c *RelayClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body, err := c.Send(ctx, req)
	if err != nil {
		return "", err
	}
	return ResponseText(body)
}

// Send posts req to the relay and returns the raw 2xx response body.
func (c *RelayClient) Send(ctx context.Context, req CompletionRequest) ([]byte, error) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	wire := relayRequest{
		Mode:     cfg.Mode,
		Messages: req.Messages,
		Model:    cfg.Model,
	}
	if req.Schema != nil {
		wire.OutputConfig = &outputConfig{Format: outputFormat{Type: "json_schema", Schema: req.Schema}}
	}

	start := time.Now()
	var (
		body []byte
		err  error
	)
	if cfg.Mode == ModeBYOK {
		body, err = c.sendWithKey(ctx, cfg.URL, wire)
	} else {
		body, err = c.circuitBreaker.Execute(ctx, func() ([]byte, error) {
			return c.post(ctx, cfg.URL, wire, nil)
		})
	}

	event := c.log.Debug()
	if err != nil {
		event = c.log.Warn().Err(err)
	}
	event.Str("mode", cfg.Mode).Bool("structured", req.Schema != nil).
		Dur("duration", time.Since(start)).Msg("relay call")

	if err != nil {
		return nil, classify(err)
	}
	return body, nil
}

// sendWithKey acquires the caller's key for exactly one relay call. A key
// that cannot be read is reported as ErrMissingKey and does not count
// against the circuit.
func (c *RelayClient) sendWithKey(ctx context.Context, url string, wire relayRequest) ([]byte, error) {
	if c.keys == nil {
		return nil, &RequestFailure{Err: ErrMissingKey}
	}
	var (
		body    []byte
		callErr error
	)
	err := c.keys.With(ctx, func(key []byte) error {
		body, callErr = c.circuitBreaker.Execute(ctx, func() ([]byte, error) {
			return c.post(ctx, url, wire, key)
		})
		return callErr
	})
	if callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, &RequestFailure{Err: fmt.Errorf("%w: %v", ErrMissingKey, err)}
	}
	return body, nil
}

// post marshals the request, including key when non-empty, and zeroes the
// encoded payload once the call returns.
func (c *RelayClient) post(ctx context.Context, url string, wire relayRequest, key []byte) ([]byte, error) {
	if len(key) > 0 {
		wire.APIKey = string(key)
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	defer clear(payload)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return nil, &RequestFailure{Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &UpstreamFailure{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Body(), nil
}

// classify maps any error from a call into the llm taxonomy.
func classify(err error) error {
	var (
		rf *RequestFailure
		uf *UpstreamFailure
		mr *MalformedResponse
	)
	if errors.As(err, &rf) || errors.As(err, &uf) || errors.As(err, &mr) {
		return err
	}
	return &RequestFailure{Err: err}
}

var _ Completer = (*RelayClient)(nil)
