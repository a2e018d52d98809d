package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/llm"
	"github.com/scrypster/contactcard/pkg/types"
)

// Extractor turns a transcript into structured mentions with one
// schema-constrained model call. It never retries.
type Extractor struct {
	llm llm.Completer
	log zerolog.Logger
}

// NewExtractor creates an extractor over c.
func NewExtractor(c llm.Completer, log zerolog.Logger) *Extractor {
	return &Extractor{llm: c, log: log}
}

// Extract grounds the model in people and contacts and parses its answer.
// Errors are the llm failure types; there are no partial results.
func (e *Extractor) Extract(ctx context.Context, transcript string, people []*types.Person, contacts []types.ExternalContact) (*types.ExtractionResult, error) {
	prompt := llm.ExtractionPrompt(transcript, people, contacts)

	text, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
		Schema:   llm.ExtractionSchema(),
	})
	if err != nil {
		return nil, err
	}

	result, err := llm.ParseExtraction(text)
	if err != nil {
		return nil, err
	}

	e.ground(result, contacts)
	return result, nil
}

// ground drops candidates that name a contact outside the snapshot and fills
// in display names the model left empty.
func (e *Extractor) ground(result *types.ExtractionResult, contacts []types.ExternalContact) {
	byID := make(map[string]types.ExternalContact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	for i := range result.Contacts {
		c := &result.Contacts[i]

		kept := c.MatchCandidates[:0]
		for _, mc := range c.MatchCandidates {
			contact, ok := byID[mc.ContactID]
			if !ok {
				e.log.Warn().Str("name", c.Name).Str("contact_id", mc.ContactID).
					Msg("engine: dropping candidate not in address book")
				continue
			}
			if mc.DisplayName == "" {
				mc.DisplayName = contact.FullName
			}
			kept = append(kept, mc)
		}
		c.MatchCandidates = kept

		if id, ok := c.Match.ContactID(); ok {
			if _, known := byID[id]; !known {
				c.Match = types.NoMatch()
			}
		}
	}
}
