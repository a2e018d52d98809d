package llm

import "context"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single model call. A non-nil Schema asks for
// schema-constrained JSON output.
type CompletionRequest struct {
	Messages []Message
	Schema   map[string]any
}

// Completer runs a model call and returns the text of the first content
// block. Failures are *RequestFailure, *UpstreamFailure or *MalformedResponse.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// KeySource hands out the caller-supplied API key for the duration of fn.
// The slice must not be retained after fn returns.
type KeySource interface {
	With(ctx context.Context, fn func(key []byte) error) error
}
