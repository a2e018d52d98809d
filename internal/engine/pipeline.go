// Package engine runs the extraction and query pipelines: it writes the
// transcript entry, snapshots the roster and address book, gates managed
// calls on credits, calls the model through the relay and hands extraction
// results to the reconciliation layer as reviews.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/contacts"
	"github.com/scrypster/contactcard/internal/credits"
	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/internal/llm"
	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/internal/storage"
	"github.com/scrypster/contactcard/pkg/types"
)

var (
	// ErrBusy is returned when an extraction or query is already running.
	// Calls are serialized, not queued.
	ErrBusy = errors.New("engine: another request is in progress")

	// ErrEmptyInput is returned for a blank transcript or question.
	ErrEmptyInput = errors.New("engine: input is empty")

	// ErrUnknownContact is returned when a selection names a contact that is
	// not in the address book.
	ErrUnknownContact = errors.New("engine: contact not in address book")
)

// ExtractionError is an extraction failure for a stored entry. The entry
// stays in the log and can be retried by id.
type ExtractionError struct {
	EntryID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("engine: extraction failed for entry %s: %v", e.EntryID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// CreditLedger gates managed-mode calls.
type CreditLedger interface {
	HasCredits(ctx context.Context) (bool, error)
	Consume(ctx context.Context) (bool, error)
}

// Config wires a Pipeline.
type Config struct {
	Store     storage.Store
	Contacts  contacts.Reader
	Completer llm.Completer
	Reviews   *reconcile.Registry

	// Mode reports the current credential mode. Nil means managed.
	Mode func() string
	// Credits is charged one credit per successful managed call. Nil
	// disables the gate.
	Credits CreditLedger

	Publisher events.Publisher
	Logger    zerolog.Logger
}

// Validate checks that required collaborators are set.
func (c Config) Validate() error {
	switch {
	case c.Store == nil:
		return errors.New("engine: store is required")
	case c.Completer == nil:
		return errors.New("engine: completer is required")
	case c.Reviews == nil:
		return errors.New("engine: review registry is required")
	}
	return nil
}

// Pipeline is the single entry point for model-backed operations.
type Pipeline struct {
	store     storage.Store
	contacts  contacts.Reader
	extractor *Extractor
	querier   *Querier
	reviews   *reconcile.Registry
	mode      func() string
	credits   CreditLedger
	pub       events.Publisher
	log       zerolog.Logger

	inFlight atomic.Bool
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reader := cfg.Contacts
	if reader == nil {
		reader = contacts.StaticReader(nil)
	}
	mode := cfg.Mode
	if mode == nil {
		mode = func() string { return llm.ModeManaged }
	}
	return &Pipeline{
		store:     cfg.Store,
		contacts:  reader,
		extractor: NewExtractor(cfg.Completer, cfg.Logger),
		querier:   NewQuerier(cfg.Completer),
		reviews:   cfg.Reviews,
		mode:      mode,
		credits:   cfg.Credits,
		pub:       events.OrDiscard(cfg.Publisher),
		log:       cfg.Logger,
	}, nil
}

// Busy reports whether an extraction or query is running.
func (p *Pipeline) Busy() bool { return p.inFlight.Load() }

func (p *Pipeline) acquire() bool { return p.inFlight.CompareAndSwap(false, true) }
func (p *Pipeline) release()      { p.inFlight.Store(false) }

// Submit records transcript as a new entry and extracts it into a review.
// The entry is written before the model is called, so it survives a failed
// extraction. Once started, the call is not cancelled by ctx.
func (p *Pipeline) Submit(ctx context.Context, transcript string) (*reconcile.Review, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyInput
	}
	if !p.acquire() {
		observe("extract", ErrBusy)
		return nil, ErrBusy
	}
	defer p.release()

	ctx = context.WithoutCancel(ctx)

	entry := &types.Entry{Transcript: transcript}
	if err := p.store.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("engine: failed to save entry: %w", err)
	}
	p.pub.Publish(events.Event{Type: events.EntryCreated, Subject: entry.ID})

	return p.extract(ctx, entry)
}

// Retry re-runs extraction for a stored entry.
func (p *Pipeline) Retry(ctx context.Context, entryID string) (*reconcile.Review, error) {
	if !p.acquire() {
		observe("extract", ErrBusy)
		return nil, ErrBusy
	}
	defer p.release()

	ctx = context.WithoutCancel(ctx)

	entry, err := p.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return p.extract(ctx, entry)
}

func (p *Pipeline) extract(ctx context.Context, entry *types.Entry) (*reconcile.Review, error) {
	start := time.Now()
	people, err := p.store.ListPeople(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load roster: %w", err)
	}
	snapshot := p.contacts.Snapshot()

	result, managed, err := p.callExtract(ctx, entry, people, snapshot)
	observe("extract", err)
	if err != nil {
		p.log.Warn().Err(err).Str("entry_id", entry.ID).Dur("duration", time.Since(start)).
			Msg("engine: extraction failed")
		p.pub.Publish(events.Event{Type: events.ExtractionFailed, Subject: entry.ID, Data: llm.UserMessage(err)})
		return nil, &ExtractionError{EntryID: entry.ID, Err: err}
	}
	p.charge(ctx, managed)

	review := reconcile.NewReview(entry, result, people, p.log)
	p.reviews.Add(review)

	p.log.Info().Str("entry_id", entry.ID).Str("review_id", review.ID).
		Int("mentions", len(result.Contacts)).Bool("committable", review.Committable()).
		Dur("duration", time.Since(start)).Msg("engine: extraction complete")
	p.pub.Publish(events.Event{Type: events.ReviewCreated, Subject: review.ID, Data: review.View()})
	return review, nil
}

func (p *Pipeline) callExtract(ctx context.Context, entry *types.Entry, people []*types.Person, snapshot []types.ExternalContact) (*types.ExtractionResult, bool, error) {
	managed, err := p.reserve(ctx)
	if err != nil {
		return nil, false, err
	}
	result, err := p.extractor.Extract(ctx, entry.Transcript, people, snapshot)
	return result, managed, err
}

// Ask answers question from the stored people and address book.
func (p *Pipeline) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyInput
	}
	if !p.acquire() {
		observe("query", ErrBusy)
		return "", ErrBusy
	}
	defer p.release()

	ctx = context.WithoutCancel(ctx)

	people, err := p.store.ListPeople(ctx)
	if err != nil {
		return "", fmt.Errorf("engine: failed to load roster: %w", err)
	}

	managed, err := p.reserve(ctx)
	if err == nil {
		var answer string
		answer, err = p.querier.Query(ctx, question, people, p.contacts.Snapshot())
		if err == nil {
			observe("query", nil)
			p.charge(ctx, managed)
			return answer, nil
		}
	}
	observe("query", err)
	p.log.Warn().Err(err).Msg("engine: query failed")
	return "", err
}

// reserve checks that a managed call can be paid for. It reports whether
// the call is managed.
func (p *Pipeline) reserve(ctx context.Context) (bool, error) {
	if p.mode() != llm.ModeManaged || p.credits == nil {
		return false, nil
	}
	ok, err := p.credits.HasCredits(ctx)
	if err != nil {
		return false, fmt.Errorf("engine: failed to read credits: %w", err)
	}
	if !ok {
		return false, credits.ErrInsufficient
	}
	return true, nil
}

func (p *Pipeline) charge(ctx context.Context, managed bool) {
	if !managed {
		return
	}
	ok, err := p.credits.Consume(ctx)
	switch {
	case err != nil:
		p.log.Error().Err(err).Msg("engine: failed to consume credit")
	case !ok:
		p.log.Warn().Msg("engine: credit balance reached zero during call")
	}
}

// Review returns an open review.
func (p *Pipeline) Review(id string) (*reconcile.Review, error) {
	return p.reviews.Get(id)
}

// Reviews lists open reviews.
func (p *Pipeline) Reviews() []*reconcile.Review {
	return p.reviews.List()
}

// SelectNewPerson resolves a mention to a new Person.
func (p *Pipeline) SelectNewPerson(reviewID string, mention int) (*reconcile.Review, error) {
	return p.updateReview(reviewID, func(r *reconcile.Review) error {
		return r.SelectNewPerson(mention)
	})
}

// SelectExternalContact resolves a mention to an address-book contact.
func (p *Pipeline) SelectExternalContact(reviewID string, mention int, contactID string) (*reconcile.Review, error) {
	if _, ok := p.contacts.Get(contactID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContact, contactID)
	}
	return p.updateReview(reviewID, func(r *reconcile.Review) error {
		return r.SelectExternalContact(mention, contactID)
	})
}

// EditFact changes a candidate fact.
func (p *Pipeline) EditFact(reviewID string, mention, fact int, edit reconcile.FactEdit) (*reconcile.Review, error) {
	return p.updateReview(reviewID, func(r *reconcile.Review) error {
		return r.EditFact(mention, fact, edit)
	})
}

func (p *Pipeline) updateReview(id string, fn func(r *reconcile.Review) error) (*reconcile.Review, error) {
	r, err := p.reviews.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	p.pub.Publish(events.Event{Type: events.ReviewUpdated, Subject: id, Data: r.View()})
	return r, nil
}

// Commit writes a review into the store and closes it.
func (p *Pipeline) Commit(ctx context.Context, reviewID string) (*reconcile.CommitResult, error) {
	r, err := p.reviews.Get(reviewID)
	if err != nil {
		return nil, err
	}
	res, err := reconcile.Commit(ctx, p.store, r)
	if err != nil {
		return nil, err
	}
	p.reviews.Remove(reviewID)

	p.log.Info().Str("review_id", reviewID).Int("people", len(res.People)).Msg("engine: review committed")
	p.pub.Publish(events.Event{Type: events.ReviewCommitted, Subject: reviewID, Data: res})
	p.pub.Publish(events.Event{Type: events.PeopleChanged, Data: res.PersonIDs()})
	return res, nil
}

// Discard drops an open review without writing anything.
func (p *Pipeline) Discard(reviewID string) error {
	if !p.reviews.Remove(reviewID) {
		return reconcile.ErrReviewNotFound
	}
	p.pub.Publish(events.Event{Type: events.ReviewDiscarded, Subject: reviewID})
	return nil
}
