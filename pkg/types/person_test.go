package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/contactcard/pkg/types"
)

func TestMergeAliases_PreservesOrderAndSkipsDuplicates(t *testing.T) {
	p := &types.Person{Name: "Jeremy Smith", Aliases: []string{"Jerry"}}

	added := p.MergeAliases("Jer", "Jerry", "Jeremy Smith", "  ", "J-Dog", "Jer")

	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"Jerry", "Jer", "J-Dog"}, p.Aliases)
	assert.NoError(t, p.Validate())
}

func TestMergeAliases_Idempotent(t *testing.T) {
	p := &types.Person{Name: "Sarah"}

	p.MergeAliases("Sare", "S")
	added := p.MergeAliases("Sare", "S")

	assert.Zero(t, added)
	assert.Equal(t, []string{"Sare", "S"}, p.Aliases)
}

func TestPersonValidate(t *testing.T) {
	assert.ErrorIs(t, (&types.Person{Name: "  "}).Validate(), types.ErrBlankName)
	assert.ErrorIs(t, (&types.Person{Name: "Amy", Aliases: []string{"Amy"}}).Validate(), types.ErrDuplicateAlias)
	assert.ErrorIs(t, (&types.Person{Name: "Amy", Aliases: []string{"A", "A"}}).Validate(), types.ErrDuplicateAlias)
	assert.NoError(t, (&types.Person{Name: "Amy", Aliases: []string{"A"}}).Validate())
}

func TestFactValidate(t *testing.T) {
	assert.ErrorIs(t, (&types.Fact{PersonID: "p1", Content: " \t"}).Validate(), types.ErrBlankContent)
	assert.ErrorIs(t, (&types.Fact{Content: "Runs marathons"}).Validate(), types.ErrNoOwner)
	assert.NoError(t, (&types.Fact{PersonID: "p1", Category: "zodiac", Content: "Leo"}).Validate())
}

func TestExternalLink(t *testing.T) {
	p := &types.Person{Name: "Amy"}
	assert.Equal(t, "", p.ExternalLink())

	p.SetExternalLink("ab-1")
	assert.Equal(t, "ab-1", p.ExternalLink())
}

func TestIsKnownCategory(t *testing.T) {
	assert.Len(t, types.FactCategories, 12)
	for _, c := range types.FactCategories {
		assert.True(t, types.IsKnownCategory(c), c)
	}
	assert.False(t, types.IsKnownCategory("zodiac"))
}
