package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ConfidenceTier is the ordinal confidence of a match candidate.
// The zero value is not a valid tier.
type ConfidenceTier int

// Confidence tiers, ordered so that ConfidenceHigh > ConfidenceMedium > ConfidenceLow.
const (
	ConfidenceLow ConfidenceTier = iota + 1
	ConfidenceMedium
	ConfidenceHigh
)

var confidenceNames = map[ConfidenceTier]string{
	ConfidenceLow:    "low",
	ConfidenceMedium: "medium",
	ConfidenceHigh:   "high",
}

// ConfidenceNames lists the wire names in descending order.
var ConfidenceNames = []string{"high", "medium", "low"}

// ParseConfidence converts a wire name to a tier.
func ParseConfidence(s string) (ConfidenceTier, error) {
	for tier, name := range confidenceNames {
		if name == s {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("unknown confidence tier %q", s)
}

func (c ConfidenceTier) String() string {
	if name, ok := confidenceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ConfidenceTier(%d)", int(c))
}

// MarshalJSON encodes the tier as its wire name.
func (c ConfidenceTier) MarshalJSON() ([]byte, error) {
	name, ok := confidenceNames[c]
	if !ok {
		return nil, fmt.Errorf("invalid confidence tier %d", int(c))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire name.
func (c *ConfidenceTier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tier, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = tier
	return nil
}

// MatchKind tags which identity, if any, a mention was matched to.
type MatchKind string

const (
	MatchNone    MatchKind = "none"
	MatchPerson  MatchKind = "person"
	MatchContact MatchKind = "contact"
)

// Match is the identity the model matched a mention to. A mention carries
// exactly one Match, so it can never point at a Person and an external
// contact at the same time.
type Match struct {
	Kind MatchKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// NoMatch returns the empty match.
func NoMatch() Match { return Match{Kind: MatchNone} }

// PersonMatch returns a match to an existing Person.
func PersonMatch(id string) Match { return Match{Kind: MatchPerson, ID: id} }

// ContactMatch returns a match to an external contact.
func ContactMatch(id string) Match { return Match{Kind: MatchContact, ID: id} }

// PersonID returns the matched Person id, if the match is to a Person.
func (m Match) PersonID() (string, bool) {
	if m.Kind == MatchPerson && m.ID != "" {
		return m.ID, true
	}
	return "", false
}

// ContactID returns the matched external contact id, if any.
func (m Match) ContactID() (string, bool) {
	if m.Kind == MatchContact && m.ID != "" {
		return m.ID, true
	}
	return "", false
}

// MatchCandidate is one possible address-book identity for a mention.
type MatchCandidate struct {
	ContactID   string         `json:"contact_id"`
	DisplayName string         `json:"display_name"`
	Confidence  ConfidenceTier `json:"confidence"`
}

// RankCandidates sorts candidates by descending confidence, keeping the
// model's order among equal tiers.
func RankCandidates(candidates []MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
}

// ExtractedFact is a candidate fact produced by extraction.
type ExtractedFact struct {
	Category string `json:"category"`
	Content  string `json:"content"`
}

// ExtractedContact is one mention produced by extraction.
type ExtractedContact struct {
	Name            string           `json:"name"`
	Match           Match            `json:"match"`
	Aliases         []string         `json:"aliases"`
	Facts           []ExtractedFact  `json:"facts"`
	MatchCandidates []MatchCandidate `json:"match_candidates"`
}

// ExtractionResult is the structured output of one extraction call.
type ExtractionResult struct {
	Contacts []ExtractedContact `json:"contacts"`
}
