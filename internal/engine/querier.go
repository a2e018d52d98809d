package engine

import (
	"context"

	"github.com/scrypster/contactcard/internal/llm"
	"github.com/scrypster/contactcard/pkg/types"
)

// Querier answers natural-language questions about the stored people.
type Querier struct {
	llm llm.Completer
}

// NewQuerier creates a querier over c.
func NewQuerier(c llm.Completer) *Querier {
	return &Querier{llm: c}
}

// Query returns the model's free-text answer. The answer is not validated.
func (q *Querier) Query(ctx context.Context, question string, people []*types.Person, contacts []types.ExternalContact) (string, error) {
	return q.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: llm.QueryPrompt(question, people, contacts)}},
	})
}
