package reconcile_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/internal/storage/sqlite"
	"github.com/scrypster/contactcard/pkg/types"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func review(transcript string, roster []*types.Person, contacts ...types.ExtractedContact) *reconcile.Review {
	entry := &types.Entry{ID: "e-1", Transcript: transcript}
	return reconcile.NewReview(entry, &types.ExtractionResult{Contacts: contacts}, roster, zerolog.Nop())
}

func TestCommit_JerryWithoutFacts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	r := review("Ran into Jerry.", nil, types.ExtractedContact{Name: "Jerry", Aliases: []string{}, Facts: []types.ExtractedFact{}})
	m := r.Mentions()
	require.Len(t, m, 1)
	assert.Equal(t, reconcile.StateNewPerson, m[0].State)
	assert.Empty(t, m[0].Facts)
	assert.False(t, m[0].NeedsResolution)

	res, err := reconcile.Commit(ctx, store, r)
	require.NoError(t, err)
	require.Len(t, res.People, 1)
	assert.True(t, res.People[0].Created)
	assert.Zero(t, res.People[0].Facts)

	people, err := store.ListPeople(ctx)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Jerry", people[0].Name)
	assert.Empty(t, people[0].Facts)
	assert.Empty(t, people[0].ExternalLink())
}

func TestCommit_SarahBlockedUntilResolved(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	r := review("Sarah got promoted.", nil, types.ExtractedContact{
		Name:  "Sarah",
		Facts: []types.ExtractedFact{{Category: "work", Content: "Promoted to director"}},
		MatchCandidates: []types.MatchCandidate{
			candidate("ab-1", types.ConfidenceMedium),
			candidate("ab-2", types.ConfidenceLow),
		},
	}, types.ExtractedContact{Name: "Amy", Facts: []types.ExtractedFact{{Category: "family", Content: "Has twins"}}})

	_, err := reconcile.Commit(ctx, store, r)
	assert.ErrorIs(t, err, reconcile.ErrUnresolved)
	people, err := store.ListPeople(ctx)
	require.NoError(t, err)
	assert.Empty(t, people, "a blocked commit writes nothing, not even resolved mentions")

	require.NoError(t, r.SelectExternalContact(0, "ab-1"))
	res, err := reconcile.Commit(ctx, store, r)
	require.NoError(t, err)
	require.Len(t, res.People, 2)

	sarah, err := store.FindPersonByExternalID(ctx, "ab-1")
	require.NoError(t, err)
	assert.Equal(t, "Sarah", sarah.Name)
	require.Len(t, sarah.Facts, 1)
	assert.Equal(t, "Sarah got promoted.", sarah.Facts[0].RawTranscript)
	assert.True(t, r.Committed())
}

func TestCommit_ExternalContactReusesLinkedPerson(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	existing := &types.Person{Name: "Jeremy Smith", Aliases: []string{"Jeremy"}}
	existing.SetExternalLink("ab-1")
	require.NoError(t, store.CreatePerson(ctx, existing))

	r := review("Jerry is running a marathon.", nil, types.ExtractedContact{
		Name:            "Jerry",
		Aliases:         []string{"Jerry"},
		Facts:           []types.ExtractedFact{{Category: "interests", Content: "Training for a marathon"}},
		MatchCandidates: []types.MatchCandidate{candidate("ab-1", types.ConfidenceHigh)},
	})
	res, err := reconcile.Commit(ctx, store, r)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.People[0].PersonID)
	assert.False(t, res.People[0].Created)

	got, err := store.GetPerson(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jeremy Smith", got.Name)
	assert.Equal(t, []string{"Jeremy", "Jerry"}, got.Aliases)
	assert.Len(t, got.Facts, 1)

	all, err := store.ListPeople(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCommit_UpdateExistingKeepsLink(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	p := &types.Person{Name: "Jeremy Smith"}
	p.SetExternalLink("ab-9")
	require.NoError(t, store.CreatePerson(ctx, p))
	roster, err := store.ListPeople(ctx)
	require.NoError(t, err)

	r := review("Jeremy moved to Austin.", roster, types.ExtractedContact{
		Name:  "Jeremy",
		Match: types.PersonMatch(p.ID),
		Facts: []types.ExtractedFact{{Category: "location", Content: "Lives in Austin"}},
	})
	_, err = reconcile.Commit(ctx, store, r)
	require.NoError(t, err)

	got, err := store.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ab-9", got.ExternalLink())
}

func TestCommit_AliasMergeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	p := &types.Person{Name: "Jeremy Smith"}
	require.NoError(t, store.CreatePerson(ctx, p))

	for i := 0; i < 2; i++ {
		roster, err := store.ListPeople(ctx)
		require.NoError(t, err)
		r := review("Jerry says hi.", roster, types.ExtractedContact{
			Name:    "Jerry",
			Match:   types.PersonMatch(p.ID),
			Aliases: []string{"Jerry", "Jeremy Smith"},
		})
		_, err = reconcile.Commit(ctx, store, r)
		require.NoError(t, err)
	}

	got, err := store.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Jerry"}, got.Aliases)
}

func TestCommit_OnlyEnabledNonBlankFacts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	r := review("Amy notes.", nil, types.ExtractedContact{
		Name: "Amy",
		Facts: []types.ExtractedFact{
			{Category: "work", Content: "VP at Goldman Sachs"},
			{Category: "family", Content: "Has a son"},
			{Category: "health", Content: "Allergic to nuts"},
			{Category: "other", Content: "Likes jazz"},
		},
	})
	off := false
	blank := "   "
	require.NoError(t, r.EditFact(0, 1, reconcile.FactEdit{Enabled: &off}))
	require.NoError(t, r.EditFact(0, 2, reconcile.FactEdit{Content: &blank}))
	require.NoError(t, r.EditFact(0, 3, reconcile.FactEdit{Category: &blank}))

	res, err := reconcile.Commit(ctx, store, r)
	require.NoError(t, err)
	assert.Equal(t, 1, res.People[0].Facts)

	facts, err := store.ListFacts(ctx, res.People[0].PersonID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "work", facts[0].Category)
	assert.Equal(t, "VP at Goldman Sachs", facts[0].Content)
	assert.Equal(t, "Amy notes.", facts[0].RawTranscript)
}

func TestCommit_RollsBackWholeBatch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	p := &types.Person{Name: "Gone"}
	require.NoError(t, store.CreatePerson(ctx, p))
	roster, err := store.ListPeople(ctx)
	require.NoError(t, err)

	r := review("Two people.", roster,
		types.ExtractedContact{Name: "Amy", Facts: []types.ExtractedFact{{Category: "work", Content: "Nurse"}}},
		types.ExtractedContact{Name: "Gone", Match: types.PersonMatch(p.ID)},
	)
	require.NoError(t, store.DeletePerson(ctx, p.ID))

	_, err = reconcile.Commit(ctx, store, r)
	require.Error(t, err)
	assert.False(t, r.Committed())

	people, err := store.ListPeople(ctx)
	require.NoError(t, err)
	assert.Empty(t, people, "Amy is rolled back with the failing mention")
}

func TestCommit_Once(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	r := review("Jerry.", nil, types.ExtractedContact{Name: "Jerry"})
	_, err := reconcile.Commit(ctx, store, r)
	require.NoError(t, err)

	_, err = reconcile.Commit(ctx, store, r)
	assert.ErrorIs(t, err, reconcile.ErrCommitted)
	assert.ErrorIs(t, r.SelectNewPerson(0), reconcile.ErrCommitted)

	people, err := store.ListPeople(ctx)
	require.NoError(t, err)
	assert.Len(t, people, 1)
}

func TestCommit_SameContactTwiceInBatch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	r := review("Jerry and Jeremy are the same guy.", nil,
		types.ExtractedContact{Name: "Jerry", MatchCandidates: []types.MatchCandidate{candidate("ab-1", types.ConfidenceHigh)}},
		types.ExtractedContact{Name: "Jeremy", MatchCandidates: []types.MatchCandidate{candidate("ab-1", types.ConfidenceHigh)}},
	)
	res, err := reconcile.Commit(ctx, store, r)
	require.NoError(t, err)
	assert.Equal(t, res.People[0].PersonID, res.People[1].PersonID)

	got, err := store.GetPerson(ctx, res.People[0].PersonID)
	require.NoError(t, err)
	assert.Equal(t, "Jerry", got.Name)
}

func TestCommit_BlankNamedMentionDoesNotBlockBatch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	r := review("Jerry and someone at the bank.", nil,
		types.ExtractedContact{Name: "Jerry", Aliases: []string{}, Facts: []types.ExtractedFact{}},
		types.ExtractedContact{Name: "  ", Aliases: []string{}, Facts: []types.ExtractedFact{{Category: "work", Content: "Banker"}}},
	)
	require.Len(t, r.Mentions(), 1)
	assert.Equal(t, "Jerry", r.Mentions()[0].Name)
	assert.True(t, r.Committable())

	res, err := reconcile.Commit(ctx, store, r)
	require.NoError(t, err)
	require.Len(t, res.People, 1)

	people, err := store.ListPeople(ctx)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Jerry", people[0].Name)
}
