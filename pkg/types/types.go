// Package types defines the core data structures for contactcard: the durable
// Person, Fact and Entry records, the read-only address-book snapshot, and the
// transient extraction types that live for one extraction-review cycle.
package types

import "strings"

// Fact category constants. The list is passed verbatim to the model; values
// outside it are stored and displayed as-is.
const (
	CategoryWork         = "work"
	CategoryFamily       = "family"
	CategoryInterests    = "interests"
	CategoryLocation     = "location"
	CategoryEducation    = "education"
	CategoryPersonality  = "personality"
	CategoryRelationship = "relationship"
	CategoryHealth       = "health"
	CategoryEvents       = "events"
	CategoryAppearance   = "appearance"
	CategoryPreferences  = "preferences"
	CategoryOther        = "other"
)

// FactCategories is the fixed category enumeration in prompt order.
var FactCategories = []string{
	CategoryWork,
	CategoryFamily,
	CategoryInterests,
	CategoryLocation,
	CategoryEducation,
	CategoryPersonality,
	CategoryRelationship,
	CategoryHealth,
	CategoryEvents,
	CategoryAppearance,
	CategoryPreferences,
	CategoryOther,
}

// IsKnownCategory reports whether category is one of FactCategories.
func IsKnownCategory(category string) bool {
	for _, c := range FactCategories {
		if c == category {
			return true
		}
	}
	return false
}

// isBlank reports whether s is empty or whitespace-only.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
