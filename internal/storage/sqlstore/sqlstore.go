// Package sqlstore is the database/sql implementation shared by the sqlite
// and postgres backends. Backends open the connection, run their migrations
// and hand the *sql.DB to New with their placeholder rebind.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/contactcard/internal/storage"
	"github.com/scrypster/contactcard/pkg/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dollar rewrites "?" placeholders to PostgreSQL's $1, $2, ... form.
// The queries in this package never contain a literal '?'.
func Dollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Store implements storage.Store over a *sql.DB.
type Store struct {
	queries
	db *sql.DB
}

// New wraps an open, migrated database. A nil rebind keeps "?" placeholders.
func New(db *sql.DB, rebind storage.Rebind) *Store {
	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	return &Store{queries: queries{q: db, rebind: rebind}, db: db}
}

// DB exposes the underlying connection for backups and tests.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{q: tx, rebind: s.rebind}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeletePerson removes the facts and then the person in one transaction.
func (s *Store) DeletePerson(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeletePerson(ctx, id)
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)

// queries holds every statement; it runs against either the DB or a Tx.
type queries struct {
	q      querier
	rebind storage.Rebind
}

var _ storage.Tx = (*queries)(nil)

func (s *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// ---- people ----

const personColumns = `id, name, aliases, external_id, summary, created_at, updated_at`

func (s *queries) CreatePerson(ctx context.Context, p *types.Person) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	aliases, err := marshalAliases(p.Aliases)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO people (`+personColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, aliases, nullString(p.ExternalID), p.Summary, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert person: %w", err)
	}
	return nil
}

func (s *queries) GetPerson(ctx context.Context, id string) (*types.Person, error) {
	row := s.queryRow(ctx, `SELECT `+personColumns+` FROM people WHERE id = ?`, id)
	p, err := scanPerson(row)
	if err != nil {
		return nil, err
	}
	if p.Facts, err = s.ListFacts(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *queries) FindPersonByExternalID(ctx context.Context, externalID string) (*types.Person, error) {
	if externalID == "" {
		return nil, storage.ErrNotFound
	}
	row := s.queryRow(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE external_id = ?
		ORDER BY created_at
		LIMIT 1`, externalID)
	p, err := scanPerson(row)
	if err != nil {
		return nil, err
	}
	if p.Facts, err = s.ListFacts(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *queries) ListPeople(ctx context.Context) ([]*types.Person, error) {
	rows, err := s.query(ctx, `SELECT `+personColumns+` FROM people ORDER BY name, created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	var people []*types.Person
	byID := make(map[string]*types.Person)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// One pass over facts instead of a query per person.
	factRows, err := s.query(ctx, `SELECT `+factColumns+` FROM facts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer factRows.Close()
	for factRows.Next() {
		f, err := scanFact(factRows)
		if err != nil {
			return nil, err
		}
		if p, ok := byID[f.PersonID]; ok {
			p.Facts = append(p.Facts, *f)
		}
	}
	return people, factRows.Err()
}

func (s *queries) UpdatePerson(ctx context.Context, p *types.Person) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	aliases, err := marshalAliases(p.Aliases)
	if err != nil {
		return err
	}

	res, err := s.exec(ctx, `
		UPDATE people
		SET name = ?, aliases = ?, external_id = ?, summary = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, aliases, nullString(p.ExternalID), p.Summary, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return expectOneRow(res)
}

// DeletePerson deletes facts by owner before the person row. On the
// top-level Store this runs inside WithTx.
func (s *queries) DeletePerson(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM facts WHERE person_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete facts for person: %w", err)
	}
	res, err := s.exec(ctx, `DELETE FROM people WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	return expectOneRow(res)
}

// ---- facts ----

const factColumns = `id, person_id, category, content, raw_transcript, created_at`

func (s *queries) CreateFact(ctx context.Context, f *types.Fact) error {
	if f == nil {
		return storage.ErrInvalidInput
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	var exists int
	err := s.queryRow(ctx, `SELECT COUNT(1) FROM people WHERE id = ?`, f.PersonID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check fact owner: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: owner %s", storage.ErrNotFound, f.PersonID)
	}

	_, err = s.exec(ctx, `
		INSERT INTO facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.PersonID, f.Category, f.Content, f.RawTranscript, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	return nil
}

func (s *queries) GetFact(ctx context.Context, id string) (*types.Fact, error) {
	return scanFact(s.queryRow(ctx, `SELECT `+factColumns+` FROM facts WHERE id = ?`, id))
}

func (s *queries) ListFacts(ctx context.Context, personID string) ([]types.Fact, error) {
	rows, err := s.query(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE person_id = ?
		ORDER BY created_at, id`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	facts := []types.Fact{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	return facts, rows.Err()
}

func (s *queries) DeleteFact(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete fact: %w", err)
	}
	return expectOneRow(res)
}

// ---- entries ----

func (s *queries) CreateEntry(ctx context.Context, e *types.Entry) error {
	if e == nil {
		return storage.ErrInvalidInput
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO entries (id, transcript, created_at)
		VALUES (?, ?, ?)`, e.ID, e.Transcript, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *queries) GetEntry(ctx context.Context, id string) (*types.Entry, error) {
	var e types.Entry
	err := s.queryRow(ctx, `SELECT id, transcript, created_at FROM entries WHERE id = ?`, id).
		Scan(&e.ID, &e.Transcript, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return &e, nil
}

func (s *queries) ListEntries(ctx context.Context, limit int) ([]*types.Entry, error) {
	query := `SELECT id, transcript, created_at FROM entries ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*types.Entry
	for rows.Next() {
		var e types.Entry
		if err := rows.Scan(&e.ID, &e.Transcript, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ---- settings ----

func (s *queries) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *queries) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// ---- helpers ----

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(row scanner) (*types.Person, error) {
	var (
		p        types.Person
		aliases  string
		external sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &aliases, &external, &p.Summary, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan person: %w", err)
	}
	p.Aliases = []string{}
	if aliases != "" {
		if err := json.Unmarshal([]byte(aliases), &p.Aliases); err != nil {
			return nil, fmt.Errorf("failed to decode aliases for %s: %w", p.ID, err)
		}
	}
	if external.Valid {
		v := external.String
		p.ExternalID = &v
	}
	p.Facts = []types.Fact{}
	return &p, nil
}

func scanFact(row scanner) (*types.Fact, error) {
	var f types.Fact
	err := row.Scan(&f.ID, &f.PersonID, &f.Category, &f.Content, &f.RawTranscript, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fact: %w", err)
	}
	return &f, nil
}

func marshalAliases(aliases []string) (string, error) {
	if aliases == nil {
		aliases = []string{}
	}
	data, err := json.Marshal(aliases)
	if err != nil {
		return "", fmt.Errorf("failed to marshal aliases: %w", err)
	}
	return string(data), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
