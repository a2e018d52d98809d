// Package llm talks to the language model through the relay service. It
// builds the extraction and query prompts, constrains extraction output with
// a JSON Schema, and parses responses into typed results. Every failure is
// one of RequestFailure, UpstreamFailure or MalformedResponse.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/contactcard/pkg/types"
)

// ExtractionPrompt builds the prompt that turns a transcript into people and
// facts, grounded in the known roster and address book.
func ExtractionPrompt(transcript string, people []*types.Person, contacts []types.ExternalContact) string {
	return fmt.Sprintf(`You extract contact information. The user has spoken about people they know.
Extract structured data about every person mentioned.

EXISTING PEOPLE IN DATABASE (match these before creating new entries):
%s

ADDRESS BOOK CONTACTS (match by name or company if a mentioned person corresponds to one):
%s

For each person, return:
- name: the full name as best understood
- matched_person_id: the id of an EXISTING PERSON this is, or null
- matched_contact_id: the id of an ADDRESS BOOK CONTACT when exactly one is a confident match, or null
- match_candidates: address book contacts this person might be, best first, each with contact_id, name and a confidence of high, medium or low
- aliases: nicknames or other names used for this person
- facts: objects with a category and content

CATEGORIES: %s

RULES:
- One atomic fact per entry. Never combine multiple facts into one
- Match existing people and contacts by name similarity before creating new entries
- If "Jerry" is mentioned and a contact "Jeremy Smith" at Goldman exists, match them
- When matched_person_id is set, leave matched_contact_id null and match_candidates empty
- Include context clues like when or where info was learned if mentioned
- Be conservative with matching. Only match when confident, otherwise list candidates
- If a person is mentioned but no facts are given about them, still include them with an empty facts array
- Preserve the user's phrasing as much as possible in fact content
- If unsure about a name spelling, use your best guess

TRANSCRIPT:
"""
%s
"""`,
		FormatPeopleForExtraction(people),
		FormatContacts(contacts),
		strings.Join(types.FactCategories, ", "),
		transcript,
	)
}

// QueryPrompt builds the prompt that answers a question from stored facts only.
func QueryPrompt(question string, people []*types.Person, contacts []types.ExternalContact) string {
	return fmt.Sprintf(`You are a personal contact assistant. The user will ask a question about people they know.
Answer using ONLY the information provided below. Be conversational, concise, and helpful.

If you don't have enough information to fully answer, say so honestly.
If the question is about a specific person, give all relevant facts you have.
If the question is a search (e.g. "who works in finance"), scan ALL people and contacts.
If asked about someone not in the data, say you don't have information about them.

Do not make up or infer facts that aren't explicitly stated in the data below.

STORED PEOPLE AND THEIR FACTS:
%s

ADDRESS BOOK CONTACTS (basic info from the user's address book):
%s

QUESTION: %s`,
		FormatPeopleForQuery(people),
		FormatContacts(contacts),
		question,
	)
}

// FormatPeopleForExtraction renders the roster as id, name and aliases.
func FormatPeopleForExtraction(people []*types.Person) string {
	items := make([]map[string]any, 0, len(people))
	for _, p := range people {
		aliases := p.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		items = append(items, map[string]any{
			"id":      p.ID,
			"name":    p.Name,
			"aliases": aliases,
		})
	}
	return jsonString(items)
}

// FormatPeopleForQuery renders the roster with summaries and facts.
func FormatPeopleForQuery(people []*types.Person) string {
	items := make([]map[string]any, 0, len(people))
	for _, p := range people {
		facts := make([]map[string]string, 0, len(p.Facts))
		for _, f := range p.Facts {
			facts = append(facts, map[string]string{"category": f.Category, "content": f.Content})
		}
		item := map[string]any{
			"name":    p.Name,
			"summary": p.Summary,
			"facts":   facts,
		}
		if link := p.ExternalLink(); link != "" {
			item["linked_contact"] = link
		}
		items = append(items, item)
	}
	return jsonString(items)
}

// FormatContacts renders the address-book snapshot.
func FormatContacts(contacts []types.ExternalContact) string {
	items := make([]map[string]string, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, map[string]string{
			"id":           c.ID,
			"name":         c.FullName,
			"nickname":     c.Nickname,
			"organization": c.Organization,
			"jobTitle":     c.JobTitle,
		})
	}
	return jsonString(items)
}

// jsonString marshals v with sorted map keys. It falls back to "[]".
func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}
