package reconcile_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/pkg/types"
)

func candidate(id string, tier types.ConfidenceTier) types.MatchCandidate {
	return types.MatchCandidate{ContactID: id, DisplayName: id, Confidence: tier}
}

func TestClassify(t *testing.T) {
	roster := map[string]bool{"p-1": true}

	tests := []struct {
		name      string
		contact   types.ExtractedContact
		state     reconcile.State
		needs     bool
		personID  string
		contactID string
		stale     bool
	}{
		{
			name:     "person in roster",
			contact:  types.ExtractedContact{Name: "Jeremy", Match: types.PersonMatch("p-1")},
			state:    reconcile.StateUpdateExisting,
			personID: "p-1",
		},
		{
			name: "person match ignores candidates",
			contact: types.ExtractedContact{Name: "Jeremy", Match: types.PersonMatch("p-1"),
				MatchCandidates: []types.MatchCandidate{candidate("ab-1", types.ConfidenceLow), candidate("ab-2", types.ConfidenceLow)}},
			state:    reconcile.StateUpdateExisting,
			personID: "p-1",
		},
		{
			name:    "no candidates",
			contact: types.ExtractedContact{Name: "Jerry"},
			state:   reconcile.StateNewPerson,
		},
		{
			name:      "single high candidate",
			contact:   types.ExtractedContact{Name: "Jerry", MatchCandidates: []types.MatchCandidate{candidate("ab-1", types.ConfidenceHigh)}},
			state:     reconcile.StateExternalContact,
			contactID: "ab-1",
		},
		{
			name:    "single medium candidate",
			contact: types.ExtractedContact{Name: "Jerry", MatchCandidates: []types.MatchCandidate{candidate("ab-1", types.ConfidenceMedium)}},
			state:   reconcile.StateUnresolved,
			needs:   true,
		},
		{
			name: "two candidates including high",
			contact: types.ExtractedContact{Name: "Sarah", MatchCandidates: []types.MatchCandidate{
				candidate("ab-1", types.ConfidenceHigh), candidate("ab-2", types.ConfidenceLow)}},
			state: reconcile.StateUnresolved,
			needs: true,
		},
		{
			name:    "stale person id with no candidates",
			contact: types.ExtractedContact{Name: "Ghost", Match: types.PersonMatch("p-gone")},
			state:   reconcile.StateNewPerson,
			stale:   true,
		},
		{
			name: "stale person id with ambiguous candidates",
			contact: types.ExtractedContact{Name: "Ghost", Match: types.PersonMatch("p-gone"),
				MatchCandidates: []types.MatchCandidate{candidate("ab-1", types.ConfidenceLow)}},
			state: reconcile.StateUnresolved,
			needs: true,
			stale: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := reconcile.Classify(tt.contact, roster)
			assert.Equal(t, tt.state, m.State)
			assert.Equal(t, tt.needs, m.NeedsResolution)
			assert.Equal(t, tt.personID, m.PersonID)
			assert.Equal(t, tt.contactID, m.ContactID)
			assert.Equal(t, tt.stale, m.StaleMatch)
		})
	}
}

func TestClassify_RanksCandidates(t *testing.T) {
	m := reconcile.Classify(types.ExtractedContact{Name: "Sarah", MatchCandidates: []types.MatchCandidate{
		candidate("ab-low", types.ConfidenceLow), candidate("ab-med", types.ConfidenceMedium)}}, nil)
	require.Len(t, m.Candidates, 2)
	assert.Equal(t, "ab-med", m.Candidates[0].ContactID)
}

func newSarahReview(t *testing.T) *reconcile.Review {
	t.Helper()
	entry := &types.Entry{ID: "e-1", Transcript: "Sarah got promoted."}
	result := &types.ExtractionResult{Contacts: []types.ExtractedContact{
		{Name: "Amy", Facts: []types.ExtractedFact{{Category: "work", Content: "Nurse"}}},
		{
			Name:  "Sarah",
			Facts: []types.ExtractedFact{{Category: "work", Content: "Promoted to director"}},
			MatchCandidates: []types.MatchCandidate{
				candidate("ab-1", types.ConfidenceMedium),
				candidate("ab-2", types.ConfidenceLow),
			},
		},
	}}
	return reconcile.NewReview(entry, result, nil, zerolog.Nop())
}

func TestReview_GateFollowsUnresolved(t *testing.T) {
	r := newSarahReview(t)
	assert.False(t, r.Committable())
	assert.True(t, r.Mentions()[1].NeedsResolution)

	require.NoError(t, r.SelectExternalContact(1, "ab-2"))
	assert.True(t, r.Committable())
	m := r.Mentions()[1]
	assert.Equal(t, reconcile.StateExternalContact, m.State)
	assert.Equal(t, "ab-2", m.ContactID)
	assert.False(t, m.NeedsResolution)

	require.NoError(t, r.SelectNewPerson(1))
	m = r.Mentions()[1]
	assert.Equal(t, reconcile.StateNewPerson, m.State)
	assert.Empty(t, m.ContactID)
	assert.True(t, r.Committable())
}

func TestReview_SelectionErrors(t *testing.T) {
	entry := &types.Entry{ID: "e-1", Transcript: "x"}
	roster := []*types.Person{{ID: "p-1", Name: "Jeremy"}}
	result := &types.ExtractionResult{Contacts: []types.ExtractedContact{{Name: "Jeremy", Match: types.PersonMatch("p-1")}}}
	r := reconcile.NewReview(entry, result, roster, zerolog.Nop())

	assert.ErrorIs(t, r.SelectNewPerson(0), reconcile.ErrInvalidSelection)
	assert.ErrorIs(t, r.SelectNewPerson(3), reconcile.ErrOutOfRange)
	assert.ErrorIs(t, r.SelectExternalContact(0, " "), reconcile.ErrInvalidSelection)
}

func TestReview_EditFact(t *testing.T) {
	r := newSarahReview(t)
	off := false
	content := "Head nurse"
	require.NoError(t, r.EditFact(0, 0, reconcile.FactEdit{Content: &content}))
	require.NoError(t, r.EditFact(1, 0, reconcile.FactEdit{Enabled: &off}))

	ms := r.Mentions()
	assert.Equal(t, "Head nurse", ms[0].Facts[0].Content)
	assert.Equal(t, "work", ms[0].Facts[0].Category)
	assert.False(t, ms[1].Facts[0].Enabled)

	assert.ErrorIs(t, r.EditFact(0, 5, reconcile.FactEdit{}), reconcile.ErrOutOfRange)
}

func TestReview_MentionsAreCopies(t *testing.T) {
	r := newSarahReview(t)
	ms := r.Mentions()
	ms[0].Facts[0].Content = "changed"
	assert.Equal(t, "Nurse", r.Mentions()[0].Facts[0].Content)
}

func TestReview_View(t *testing.T) {
	r := newSarahReview(t)
	v := r.View()
	assert.Equal(t, r.ID, v.ID)
	assert.Equal(t, "e-1", v.EntryID)
	assert.Len(t, v.Mentions, 2)
	assert.False(t, v.Committable)
	assert.False(t, v.Committed)
}

func TestRegistry(t *testing.T) {
	g := reconcile.NewRegistry()
	r := newSarahReview(t)
	g.Add(r)

	got, err := g.Get(r.ID)
	require.NoError(t, err)
	assert.Same(t, r, got)
	assert.Len(t, g.List(), 1)

	assert.True(t, g.Remove(r.ID))
	assert.False(t, g.Remove(r.ID))
	_, err = g.Get(r.ID)
	assert.ErrorIs(t, err, reconcile.ErrReviewNotFound)
}
