package types

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrBlankName is returned when a Person has no usable name.
	ErrBlankName = errors.New("person name is required")

	// ErrBlankContent is returned when a Fact's content is empty or whitespace-only.
	ErrBlankContent = errors.New("fact content is required")

	// ErrDuplicateAlias is returned when an alias repeats the name or another alias.
	ErrDuplicateAlias = errors.New("aliases contain a duplicate of the name or of each other")

	// ErrNoOwner is returned when a Fact is committed without an owning Person.
	ErrNoOwner = errors.New("fact owner is required")
)

// Person is a durable record of someone the user knows.
type Person struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Aliases    []string  `json:"aliases"`
	ExternalID *string   `json:"external_id,omitempty"` // Linked address-book contact
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Facts is populated by reads that load the owned facts; writes of a
	// Person never touch it.
	Facts []Fact `json:"facts,omitempty"`
}

// Validate checks the Person invariants.
func (p *Person) Validate() error {
	if isBlank(p.Name) {
		return ErrBlankName
	}
	seen := map[string]bool{p.Name: true}
	for _, a := range p.Aliases {
		if seen[a] {
			return ErrDuplicateAlias
		}
		seen[a] = true
	}
	return nil
}

// MergeAliases appends aliases not already present, preserving order.
// Blank aliases and ones equal to the name are skipped. It returns the
// number of aliases added, so merging the same input twice adds nothing.
func (p *Person) MergeAliases(aliases ...string) int {
	seen := make(map[string]bool, len(p.Aliases)+1)
	seen[p.Name] = true
	for _, a := range p.Aliases {
		seen[a] = true
	}

	added := 0
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		p.Aliases = append(p.Aliases, a)
		added++
	}
	return added
}

// ExternalLink returns the linked address-book id, or "" when unlinked.
func (p *Person) ExternalLink() string {
	if p.ExternalID == nil {
		return ""
	}
	return *p.ExternalID
}

// SetExternalLink links the Person to an address-book contact.
func (p *Person) SetExternalLink(id string) {
	p.ExternalID = &id
}

// Fact is a single atomic piece of information about a Person.
type Fact struct {
	ID            string    `json:"id"`
	PersonID      string    `json:"person_id"`
	Category      string    `json:"category"`
	Content       string    `json:"content"`
	RawTranscript string    `json:"raw_transcript"` // Empty when entered manually
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the invariants a Fact must hold when committed.
func (f *Fact) Validate() error {
	if isBlank(f.Content) {
		return ErrBlankContent
	}
	if f.PersonID == "" {
		return ErrNoOwner
	}
	return nil
}

// Entry is one captured transcript. Entries are append-only.
type Entry struct {
	ID         string    `json:"id"`
	Transcript string    `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExternalContact is a read-only address-book record.
type ExternalContact struct {
	ID           string   `json:"id" yaml:"id"`
	FullName     string   `json:"full_name" yaml:"full_name"`
	Nickname     string   `json:"nickname,omitempty" yaml:"nickname"`
	Organization string   `json:"organization,omitempty" yaml:"organization"`
	JobTitle     string   `json:"job_title,omitempty" yaml:"job_title"`
	Emails       []string `json:"emails,omitempty" yaml:"emails"`
	Phones       []string `json:"phones,omitempty" yaml:"phones"`
}
