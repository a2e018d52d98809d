// Package storage provides composable storage interfaces for contactcard.
//
// The storage layer is made of small interfaces per record kind. Backends
// (sqlite, postgres) implement all of them through a shared SQL core and
// expose WithTx so that a review commit can be written as one unit.
package storage

import (
	"context"

	"github.com/scrypster/contactcard/pkg/types"
)

// PersonStore provides CRUD for people.
type PersonStore interface {
	// CreatePerson inserts a new person. ID and timestamps are filled in
	// when empty.
	CreatePerson(ctx context.Context, person *types.Person) error

	// GetPerson returns a person with its facts loaded.
	// Returns ErrNotFound if the person doesn't exist.
	GetPerson(ctx context.Context, id string) (*types.Person, error)

	// FindPersonByExternalID returns the person linked to an address-book
	// contact. Returns ErrNotFound when no person carries that link.
	FindPersonByExternalID(ctx context.Context, externalID string) (*types.Person, error)

	// ListPeople returns all people ordered by name, each with its facts.
	ListPeople(ctx context.Context) ([]*types.Person, error)

	// UpdatePerson rewrites name, aliases, external link, summary and
	// updated_at. Returns ErrNotFound if the person doesn't exist.
	UpdatePerson(ctx context.Context, person *types.Person) error

	// DeletePerson removes a person and every fact it owns.
	// Returns ErrNotFound if the person doesn't exist.
	DeletePerson(ctx context.Context, id string) error
}

// FactStore provides CRUD for facts.
type FactStore interface {
	// CreateFact inserts a fact. The fact must pass types.Fact.Validate and
	// its owner must exist.
	CreateFact(ctx context.Context, fact *types.Fact) error

	// GetFact returns a single fact. Returns ErrNotFound if missing.
	GetFact(ctx context.Context, id string) (*types.Fact, error)

	// ListFacts returns a person's facts oldest first.
	ListFacts(ctx context.Context, personID string) ([]types.Fact, error)

	// DeleteFact removes a single fact. Returns ErrNotFound if missing.
	DeleteFact(ctx context.Context, id string) error
}

// EntryStore is the append-only transcript log. There is no update or
// delete.
type EntryStore interface {
	CreateEntry(ctx context.Context, entry *types.Entry) error

	// GetEntry returns ErrNotFound if the entry doesn't exist.
	GetEntry(ctx context.Context, id string) (*types.Entry, error)

	// ListEntries returns the newest entries first. limit <= 0 means all.
	ListEntries(ctx context.Context, limit int) ([]*types.Entry, error)
}

// SettingsStore is a small key/value table for user settings and counters.
type SettingsStore interface {
	// GetSetting returns "" and a nil error when the key is not set.
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	PersonStore
	FactStore
	EntryStore
	SettingsStore
}

// Store is a complete storage backend.
type Store interface {
	Tx

	// WithTx runs fn in a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any resources held by the store.
	Close() error
}
