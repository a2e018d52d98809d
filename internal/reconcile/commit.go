package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/contactcard/internal/storage"
	"github.com/scrypster/contactcard/pkg/types"
)

// TxRunner runs a function inside a storage transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx storage.Tx) error) error
}

// CommittedPerson reports what a commit did for one mention.
type CommittedPerson struct {
	PersonID string `json:"person_id"`
	Name     string `json:"name"`
	Created  bool   `json:"created"`
	Facts    int    `json:"facts"`
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	ReviewID string            `json:"review_id"`
	People   []CommittedPerson `json:"people"`
}

// PersonIDs returns the ids of every person touched, in mention order.
func (c *CommitResult) PersonIDs() []string {
	ids := make([]string, len(c.People))
	for i, p := range c.People {
		ids[i] = p.PersonID
	}
	return ids
}

// Commit writes the review into the store in one transaction. Nothing is
// written when any mention is unresolved, and a failure part way rolls the
// whole batch back. A review commits at most once.
func Commit(ctx context.Context, store TxRunner, r *Review) (*CommitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.committed {
		return nil, ErrCommitted
	}
	if !r.committableLocked() {
		return nil, ErrUnresolved
	}

	now := time.Now().UTC()
	var result *CommitResult
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		result = &CommitResult{ReviewID: r.ID, People: make([]CommittedPerson, 0, len(r.mentions))}
		for i := range r.mentions {
			cp, err := commitMention(ctx, tx, &r.mentions[i], r.Transcript, now)
			if err != nil {
				return fmt.Errorf("reconcile: mention %d (%s): %w", i, r.mentions[i].Name, err)
			}
			result.People = append(result.People, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.committed = true
	return result, nil
}

func commitMention(ctx context.Context, tx storage.Tx, m *Mention, transcript string, now time.Time) (CommittedPerson, error) {
	person, created, err := resolvePerson(ctx, tx, m)
	if err != nil {
		return CommittedPerson{}, err
	}

	person.MergeAliases(m.Aliases...)
	if m.State == StateExternalContact {
		person.SetExternalLink(m.ContactID)
	}
	person.UpdatedAt = now

	if created {
		err = tx.CreatePerson(ctx, person)
	} else {
		err = tx.UpdatePerson(ctx, person)
	}
	if err != nil {
		return CommittedPerson{}, err
	}

	n := 0
	for _, draft := range m.Facts {
		if !draft.committable() {
			continue
		}
		fact := &types.Fact{
			PersonID:      person.ID,
			Category:      strings.TrimSpace(draft.Category),
			Content:       strings.TrimSpace(draft.Content),
			RawTranscript: transcript,
			CreatedAt:     now,
		}
		if err := tx.CreateFact(ctx, fact); err != nil {
			return CommittedPerson{}, err
		}
		n++
	}

	return CommittedPerson{PersonID: person.ID, Name: person.Name, Created: created, Facts: n}, nil
}

// resolvePerson finds the Person a mention lands on, or seeds a new one.
func resolvePerson(ctx context.Context, tx storage.Tx, m *Mention) (*types.Person, bool, error) {
	switch m.State {
	case StateUpdateExisting:
		p, err := tx.GetPerson(ctx, m.PersonID)
		if err != nil {
			return nil, false, fmt.Errorf("load person %s: %w", m.PersonID, err)
		}
		return p, false, nil

	case StateExternalContact:
		p, err := tx.FindPersonByExternalID(ctx, m.ContactID)
		if err == nil {
			return p, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}

	case StateNewPerson:
	default:
		return nil, false, fmt.Errorf("%w: state %q", ErrInvalidSelection, m.State)
	}

	return &types.Person{Name: strings.TrimSpace(m.Name), Aliases: []string{}}, true, nil
}
