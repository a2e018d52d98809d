// Package reconcile turns an extraction result into a reviewable batch of
// mentions, tracks the human resolution of each one, and commits the
// resolved batch into the store.
package reconcile

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/pkg/types"
)

var (
	// ErrUnresolved is returned by Commit while any mention is unresolved.
	ErrUnresolved = errors.New("reconcile: review has unresolved mentions")

	// ErrCommitted is returned when a review is changed or committed after
	// it has already been committed.
	ErrCommitted = errors.New("reconcile: review already committed")

	// ErrOutOfRange is returned for a mention or fact index that does not exist.
	ErrOutOfRange = errors.New("reconcile: index out of range")

	// ErrInvalidSelection is returned for a selection the mention cannot take.
	ErrInvalidSelection = errors.New("reconcile: invalid selection")
)

// State is where a mention will land on commit.
type State string

const (
	StateUpdateExisting  State = "update_existing"
	StateExternalContact State = "external_contact"
	StateNewPerson       State = "new_person"
	StateUnresolved      State = "unresolved"
)

// FactDraft is a candidate fact. Only enabled drafts with a non-blank
// category and content are committed.
type FactDraft struct {
	Enabled  bool   `json:"enabled"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

func (f FactDraft) committable() bool {
	return f.Enabled && strings.TrimSpace(f.Category) != "" && strings.TrimSpace(f.Content) != ""
}

// Mention is one person referenced in the transcript together with its
// resolution.
type Mention struct {
	Name       string                 `json:"name"`
	Aliases    []string               `json:"aliases"`
	Facts      []FactDraft            `json:"facts"`
	Candidates []types.MatchCandidate `json:"match_candidates"`

	State     State  `json:"state"`
	PersonID  string `json:"person_id,omitempty"`  // update_existing
	ContactID string `json:"contact_id,omitempty"` // external_contact

	NeedsResolution bool `json:"needs_resolution"`

	// StaleMatch marks a mention whose matched person id was not in the
	// roster. It was classified by its candidates instead.
	StaleMatch bool `json:"stale_match,omitempty"`
}

// Classify computes the initial state of an extracted mention. roster holds
// the ids of the people supplied to the extraction call.
func Classify(c types.ExtractedContact, roster map[string]bool) Mention {
	m := Mention{
		Name:       c.Name,
		Aliases:    make([]string, 0, len(c.Aliases)),
		Facts:      make([]FactDraft, 0, len(c.Facts)),
		Candidates: make([]types.MatchCandidate, 0, len(c.MatchCandidates)),
	}
	m.Aliases = append(m.Aliases, c.Aliases...)
	m.Candidates = append(m.Candidates, c.MatchCandidates...)
	for _, f := range c.Facts {
		m.Facts = append(m.Facts, FactDraft{Enabled: true, Category: f.Category, Content: f.Content})
	}
	types.RankCandidates(m.Candidates)

	if id, ok := c.Match.PersonID(); ok {
		if roster[id] {
			m.State = StateUpdateExisting
			m.PersonID = id
			return m
		}
		m.StaleMatch = true
	}

	switch {
	case len(m.Candidates) == 0:
		m.State = StateNewPerson
	case len(m.Candidates) == 1 && m.Candidates[0].Confidence == types.ConfidenceHigh:
		m.State = StateExternalContact
		m.ContactID = m.Candidates[0].ContactID
	default:
		m.State = StateUnresolved
		m.NeedsResolution = true
	}
	return m
}

// FactEdit changes a fact draft. Nil fields are left alone.
type FactEdit struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Category *string `json:"category,omitempty"`
	Content  *string `json:"content,omitempty"`
}

// Review is the transient batch produced by one extraction. It is safe for
// concurrent use.
type Review struct {
	ID         string
	EntryID    string
	Transcript string
	CreatedAt  time.Time

	mu        sync.Mutex
	mentions  []Mention
	committed bool
}

// NewReview builds a review for entry from result, classifying every mention
// against roster.
func NewReview(entry *types.Entry, result *types.ExtractionResult, roster []*types.Person, log zerolog.Logger) *Review {
	ids := make(map[string]bool, len(roster))
	for _, p := range roster {
		ids[p.ID] = true
	}

	r := &Review{
		ID:         uuid.NewString(),
		EntryID:    entry.ID,
		Transcript: entry.Transcript,
		CreatedAt:  time.Now().UTC(),
	}
	for _, c := range result.Contacts {
		if strings.TrimSpace(c.Name) == "" {
			log.Warn().Str("entry_id", entry.ID).Int("facts", len(c.Facts)).
				Msg("reconcile: dropping mention with blank name")
			continue
		}
		m := Classify(c, ids)
		if m.StaleMatch {
			id, _ := c.Match.PersonID()
			log.Warn().Str("entry_id", entry.ID).Str("person_id", id).Str("name", c.Name).
				Msg("reconcile: matched person not in roster, falling back to candidates")
		}
		r.mentions = append(r.mentions, m)
	}
	return r
}

// Mentions returns a copy of the mentions.
func (r *Review) Mentions() []Mention {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneMentions(r.mentions)
}

// Committable reports whether no mention is unresolved.
func (r *Review) Committable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committableLocked()
}

func (r *Review) committableLocked() bool {
	for _, m := range r.mentions {
		if m.State == StateUnresolved {
			return false
		}
	}
	return true
}

// Committed reports whether Commit has succeeded for this review.
func (r *Review) Committed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// SelectNewPerson binds mention i to a new Person.
func (r *Review) SelectNewPerson(i int) error {
	return r.update(i, func(m *Mention) error {
		m.State = StateNewPerson
		m.ContactID = ""
		m.NeedsResolution = false
		return nil
	})
}

// SelectExternalContact binds mention i to the address-book contact id.
func (r *Review) SelectExternalContact(i int, contactID string) error {
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("%w: contact id is required", ErrInvalidSelection)
	}
	return r.update(i, func(m *Mention) error {
		m.State = StateExternalContact
		m.ContactID = contactID
		m.NeedsResolution = false
		return nil
	})
}

// EditFact applies edit to fact j of mention i.
func (r *Review) EditFact(i, j int, edit FactEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.committed {
		return ErrCommitted
	}
	if i < 0 || i >= len(r.mentions) {
		return fmt.Errorf("%w: mention %d", ErrOutOfRange, i)
	}
	facts := r.mentions[i].Facts
	if j < 0 || j >= len(facts) {
		return fmt.Errorf("%w: fact %d of mention %d", ErrOutOfRange, j, i)
	}
	if edit.Enabled != nil {
		facts[j].Enabled = *edit.Enabled
	}
	if edit.Category != nil {
		facts[j].Category = *edit.Category
	}
	if edit.Content != nil {
		facts[j].Content = *edit.Content
	}
	return nil
}

// update applies fn to a mention that is not bound to an existing Person.
func (r *Review) update(i int, fn func(m *Mention) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.committed {
		return ErrCommitted
	}
	if i < 0 || i >= len(r.mentions) {
		return fmt.Errorf("%w: mention %d", ErrOutOfRange, i)
	}
	m := &r.mentions[i]
	if m.State == StateUpdateExisting {
		return fmt.Errorf("%w: mention %d is bound to an existing person", ErrInvalidSelection, i)
	}
	return fn(m)
}

// View is the JSON shape of a review.
type View struct {
	ID          string    `json:"id"`
	EntryID     string    `json:"entry_id"`
	Transcript  string    `json:"transcript"`
	CreatedAt   time.Time `json:"created_at"`
	Mentions    []Mention `json:"mentions"`
	Committable bool      `json:"committable"`
	Committed   bool      `json:"committed"`
}

// View returns a consistent snapshot of the review.
func (r *Review) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	mentions := cloneMentions(r.mentions)
	if mentions == nil {
		mentions = []Mention{}
	}
	return View{
		ID:          r.ID,
		EntryID:     r.EntryID,
		Transcript:  r.Transcript,
		CreatedAt:   r.CreatedAt,
		Mentions:    mentions,
		Committable: r.committableLocked(),
		Committed:   r.committed,
	}
}

func cloneMentions(in []Mention) []Mention {
	if in == nil {
		return nil
	}
	out := make([]Mention, len(in))
	for i, m := range in {
		m.Aliases = slices.Clone(m.Aliases)
		m.Facts = slices.Clone(m.Facts)
		m.Candidates = slices.Clone(m.Candidates)
		out[i] = m
	}
	return out
}
