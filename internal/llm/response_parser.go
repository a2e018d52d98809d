package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/scrypster/contactcard/pkg/types"
)

// messagesResponse is the subset of a Messages API response we read.
type messagesResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
}

// ResponseText returns content[0].text from a Messages API response body.
func ResponseText(body []byte) (string, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &MalformedResponse{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(resp.Content) == 0 {
		return "", &MalformedResponse{Err: errors.New("response has no content blocks")}
	}
	if resp.Content[0].Text == nil {
		return "", &MalformedResponse{Err: errors.New("first content block has no text")}
	}
	return *resp.Content[0].Text, nil
}

// Wire shapes for the extraction schema. Pointers mark required fields so
// that a missing key can be told apart from an empty value.
type wireExtraction struct {
	Contacts *[]wireContact `json:"contacts"`
}

type wireContact struct {
	Name             *string         `json:"name"`
	MatchedPersonID  *string         `json:"matched_person_id"`
	MatchedContactID *string         `json:"matched_contact_id"`
	Aliases          *[]string       `json:"aliases"`
	Facts            *[]wireFact     `json:"facts"`
	MatchCandidates  []wireCandidate `json:"match_candidates"`
}

type wireFact struct {
	Category *string `json:"category"`
	Content  *string `json:"content"`
}

type wireCandidate struct {
	ContactID  string `json:"contact_id"`
	Name       string `json:"name"`
	Confidence string `json:"confidence"`
}

// ParseExtraction decodes schema-constrained extraction output. Any
// deviation from the schema fails the whole result.
//
// The matched ids fold into a single types.Match; when both are present the
// person id wins. A matched contact with no candidate list becomes a single
// high-confidence candidate.
func ParseExtraction(text string) (*types.ExtractionResult, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(text))))
	dec.DisallowUnknownFields()

	var wire wireExtraction
	if err := dec.Decode(&wire); err != nil {
		return nil, &MalformedResponse{Err: fmt.Errorf("decode extraction: %w", err)}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, &MalformedResponse{Err: errors.New("trailing data after extraction object")}
	}
	if wire.Contacts == nil {
		return nil, &MalformedResponse{Err: errors.New("missing contacts")}
	}

	result := &types.ExtractionResult{Contacts: make([]types.ExtractedContact, 0, len(*wire.Contacts))}
	for i, wc := range *wire.Contacts {
		contact, err := wc.toContact()
		if err != nil {
			return nil, &MalformedResponse{Err: fmt.Errorf("contacts[%d]: %w", i, err)}
		}
		result.Contacts = append(result.Contacts, contact)
	}
	return result, nil
}

func (wc wireContact) toContact() (types.ExtractedContact, error) {
	if wc.Name == nil {
		return types.ExtractedContact{}, errors.New("missing name")
	}
	if strings.TrimSpace(*wc.Name) == "" {
		return types.ExtractedContact{}, errors.New("blank name")
	}
	if wc.Aliases == nil {
		return types.ExtractedContact{}, errors.New("missing aliases")
	}
	if wc.Facts == nil {
		return types.ExtractedContact{}, errors.New("missing facts")
	}

	c := types.ExtractedContact{
		Name:            *wc.Name,
		Match:           types.NoMatch(),
		Aliases:         append([]string{}, (*wc.Aliases)...),
		Facts:           make([]types.ExtractedFact, 0, len(*wc.Facts)),
		MatchCandidates: make([]types.MatchCandidate, 0, len(wc.MatchCandidates)),
	}

	for j, f := range *wc.Facts {
		if f.Category == nil || f.Content == nil {
			return types.ExtractedContact{}, fmt.Errorf("facts[%d]: missing category or content", j)
		}
		c.Facts = append(c.Facts, types.ExtractedFact{Category: *f.Category, Content: *f.Content})
	}

	for j, mc := range wc.MatchCandidates {
		tier, err := types.ParseConfidence(mc.Confidence)
		if err != nil {
			return types.ExtractedContact{}, fmt.Errorf("match_candidates[%d]: %w", j, err)
		}
		if mc.ContactID == "" {
			return types.ExtractedContact{}, fmt.Errorf("match_candidates[%d]: missing contact_id", j)
		}
		c.MatchCandidates = append(c.MatchCandidates, types.MatchCandidate{
			ContactID:   mc.ContactID,
			DisplayName: mc.Name,
			Confidence:  tier,
		})
	}
	types.RankCandidates(c.MatchCandidates)

	switch {
	case nonEmpty(wc.MatchedPersonID):
		c.Match = types.PersonMatch(*wc.MatchedPersonID)
	case nonEmpty(wc.MatchedContactID):
		c.Match = types.ContactMatch(*wc.MatchedContactID)
		if len(c.MatchCandidates) == 0 {
			c.MatchCandidates = []types.MatchCandidate{{
				ContactID:  *wc.MatchedContactID,
				Confidence: types.ConfidenceHigh,
			}}
		}
	}
	return c, nil
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
