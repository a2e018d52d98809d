package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/contactcard/internal/contacts"
	"github.com/scrypster/contactcard/internal/credits"
	"github.com/scrypster/contactcard/internal/engine"
	"github.com/scrypster/contactcard/internal/llm"
	"github.com/scrypster/contactcard/internal/reconcile"
	"github.com/scrypster/contactcard/internal/storage/sqlite"
	"github.com/scrypster/contactcard/pkg/types"
)

// fakeCompleter replies with text or err and records each request.
type fakeCompleter struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []llm.CompletionRequest
	block    chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.text, f.err
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type harness struct {
	store    *sqlite.Store
	llm      *fakeCompleter
	ledger   *credits.Ledger
	mode     string
	pipeline *engine.Pipeline
}

func newHarness(t *testing.T, book ...types.ExternalContact) *harness {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:  store,
		llm:    &fakeCompleter{},
		ledger: credits.NewLedger(store, 50, nil, zerolog.Nop()),
		mode:   llm.ModeManaged,
	}
	h.pipeline, err = engine.NewPipeline(engine.Config{
		Store:     store,
		Contacts:  contacts.StaticReader(book),
		Completer: h.llm,
		Reviews:   reconcile.NewRegistry(),
		Mode:      func() string { return h.mode },
		Credits:   h.ledger,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) fund(t *testing.T, n int) {
	t.Helper()
	require.NoError(t, h.ledger.Add(context.Background(), n))
}

func (h *harness) balance(t *testing.T) int {
	t.Helper()
	n, err := h.ledger.Balance(context.Background())
	require.NoError(t, err)
	return n
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := engine.NewPipeline(engine.Config{})
	assert.Error(t, err)
}

func TestSubmit_CreatesEntryAndReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ExternalContact{ID: "ab-1", FullName: "Jeremy Smith"})
	h.fund(t, 2)
	h.llm.text = `{"contacts":[
		{"name":"Jerry","matched_person_id":null,"matched_contact_id":"ab-1","aliases":["Jerry"],
		 "facts":[{"category":"work","content":"VP at Goldman Sachs"}]},
		{"name":"Amy","aliases":[],"facts":[]}]}`

	review, err := h.pipeline.Submit(ctx, "  Jerry is a VP at Goldman. Saw Amy too.  ")
	require.NoError(t, err)

	entry, err := h.store.GetEntry(ctx, review.EntryID)
	require.NoError(t, err)
	assert.Equal(t, "Jerry is a VP at Goldman. Saw Amy too.", entry.Transcript)

	ms := review.Mentions()
	require.Len(t, ms, 2)
	assert.Equal(t, reconcile.StateExternalContact, ms[0].State)
	assert.Equal(t, "ab-1", ms[0].ContactID)
	assert.Equal(t, "Jeremy Smith", ms[0].Candidates[0].DisplayName, "display name comes from the address book")
	assert.Equal(t, reconcile.StateNewPerson, ms[1].State)

	require.Len(t, h.llm.requests, 1)
	assert.NotNil(t, h.llm.requests[0].Schema)
	assert.Contains(t, h.llm.requests[0].Messages[0].Content, `"id":"ab-1"`)
	assert.Equal(t, 1, h.balance(t), "managed call consumes one credit")

	got, err := h.pipeline.Review(review.ID)
	require.NoError(t, err)
	assert.Same(t, review, got)
}

func TestSubmit_UnknownCandidatesDropped(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 1)
	h.llm.text = `{"contacts":[{"name":"Sarah","aliases":[],"facts":[],
		"match_candidates":[{"contact_id":"ab-made-up","name":"Sarah X","confidence":"medium"}]}]}`

	review, err := h.pipeline.Submit(context.Background(), "Sarah called.")
	require.NoError(t, err)
	m := review.Mentions()[0]
	assert.Empty(t, m.Candidates)
	assert.Equal(t, reconcile.StateNewPerson, m.State)
}

func TestSubmit_FailuresKeepEntry(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		as   func(error) bool
	}{
		{
			name: "upstream failure",
			err:  &llm.UpstreamFailure{StatusCode: 500, Body: "boom"},
			as:   func(err error) bool { var e *llm.UpstreamFailure; return errors.As(err, &e) },
		},
		{
			name: "request failure",
			err:  &llm.RequestFailure{Err: errors.New("dial tcp: refused")},
			as:   func(err error) bool { var e *llm.RequestFailure; return errors.As(err, &e) },
		},
		{
			name: "malformed response",
			text: `Sure! Here are the people: Jerry`,
			as:   func(err error) bool { var e *llm.MalformedResponse; return errors.As(err, &e) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			h.fund(t, 3)
			h.llm.text, h.llm.err = tt.text, tt.err

			review, err := h.pipeline.Submit(ctx, "Jerry.")
			assert.Nil(t, review)
			assert.True(t, tt.as(err), "got %v", err)

			var ee *engine.ExtractionError
			require.True(t, errors.As(err, &ee))
			_, getErr := h.store.GetEntry(ctx, ee.EntryID)
			assert.NoError(t, getErr, "entry is written before the model call")
			assert.Equal(t, 3, h.balance(t), "failed calls are free")
			assert.Empty(t, h.pipeline.Reviews())
		})
	}
}

func TestSubmit_RetryUsesStoredEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fund(t, 5)
	h.llm.err = &llm.UpstreamFailure{StatusCode: 529}

	_, err := h.pipeline.Submit(ctx, "Amy got a dog.")
	var ee *engine.ExtractionError
	require.True(t, errors.As(err, &ee))

	h.llm.err = nil
	h.llm.text = `{"contacts":[{"name":"Amy","aliases":[],"facts":[{"category":"interests","content":"Has a dog"}]}]}`
	review, err := h.pipeline.Retry(ctx, ee.EntryID)
	require.NoError(t, err)
	assert.Equal(t, ee.EntryID, review.EntryID)
	assert.Equal(t, "Amy got a dog.", review.Transcript)

	entries, err := h.store.ListEntries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "retry does not write a new entry")
}

func TestSubmit_NoCredits(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.Submit(context.Background(), "Jerry.")
	assert.ErrorIs(t, err, credits.ErrInsufficient)
	assert.Zero(t, h.llm.calls())
}

func TestSubmit_BYOKIsFree(t *testing.T) {
	h := newHarness(t)
	h.mode = llm.ModeBYOK
	h.llm.text = `{"contacts":[]}`

	_, err := h.pipeline.Submit(context.Background(), "Nobody in particular.")
	require.NoError(t, err)
	assert.Zero(t, h.balance(t))
}

func TestSubmit_EmptyTranscript(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Submit(context.Background(), " \n ")
	assert.ErrorIs(t, err, engine.ErrEmptyInput)

	entries, err := h.store.ListEntries(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipeline_BusyGuard(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 5)
	h.llm.text = `{"contacts":[]}`
	h.llm.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.pipeline.Submit(context.Background(), "first")
		done <- err
	}()
	require.Eventually(t, func() bool { return h.llm.calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.pipeline.Busy())

	_, err := h.pipeline.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, engine.ErrBusy)
	_, err = h.pipeline.Ask(context.Background(), "who?")
	assert.ErrorIs(t, err, engine.ErrBusy)

	close(h.llm.block)
	require.NoError(t, <-done)
	assert.False(t, h.pipeline.Busy())
	assert.Equal(t, 1, h.llm.calls(), "busy calls are rejected, not queued")
}

func TestSubmit_NotCancelledByCaller(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 1)
	h.llm.text = `{"contacts":[]}`

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.pipeline.Submit(ctx, "Jerry.")
	assert.NoError(t, err)
}

func TestAsk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fund(t, 1)
	require.NoError(t, h.store.CreatePerson(ctx, &types.Person{Name: "Jeremy Smith"}))
	h.llm.text = "Jeremy Smith works in finance."

	answer, err := h.pipeline.Ask(ctx, "Who works in finance?")
	require.NoError(t, err)
	assert.Equal(t, "Jeremy Smith works in finance.", answer)
	assert.Nil(t, h.llm.requests[0].Schema)
	assert.True(t, strings.HasSuffix(h.llm.requests[0].Messages[0].Content, "QUESTION: Who works in finance?"))
	assert.Zero(t, h.balance(t))

	_, err = h.pipeline.Ask(ctx, "again?")
	assert.ErrorIs(t, err, credits.ErrInsufficient)
}

func TestReviewLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		types.ExternalContact{ID: "ab-1", FullName: "Sarah Kim"},
		types.ExternalContact{ID: "ab-2", FullName: "Sarah Lee"},
	)
	h.fund(t, 2)
	h.llm.text = `{"contacts":[{"name":"Sarah","aliases":[],
		"facts":[{"category":"work","content":"Promoted to director"}],
		"match_candidates":[
			{"contact_id":"ab-1","name":"Sarah Kim","confidence":"medium"},
			{"contact_id":"ab-2","name":"Sarah Lee","confidence":"low"}]}]}`

	review, err := h.pipeline.Submit(ctx, "Sarah got promoted.")
	require.NoError(t, err)
	assert.False(t, review.Committable())

	_, err = h.pipeline.Commit(ctx, review.ID)
	assert.ErrorIs(t, err, reconcile.ErrUnresolved)

	_, err = h.pipeline.SelectExternalContact(review.ID, 0, "ab-9")
	assert.ErrorIs(t, err, engine.ErrUnknownContact)

	_, err = h.pipeline.SelectExternalContact(review.ID, 0, "ab-2")
	require.NoError(t, err)

	res, err := h.pipeline.Commit(ctx, review.ID)
	require.NoError(t, err)
	require.Len(t, res.People, 1)

	_, err = h.pipeline.Review(review.ID)
	assert.ErrorIs(t, err, reconcile.ErrReviewNotFound, "committed reviews are closed")

	p, err := h.store.FindPersonByExternalID(ctx, "ab-2")
	require.NoError(t, err)
	assert.Equal(t, "Sarah", p.Name)
}

func TestDiscard(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 1)
	h.llm.text = `{"contacts":[{"name":"Jerry","aliases":[],"facts":[]}]}`

	review, err := h.pipeline.Submit(context.Background(), "Jerry.")
	require.NoError(t, err)

	require.NoError(t, h.pipeline.Discard(review.ID))
	assert.ErrorIs(t, h.pipeline.Discard(review.ID), reconcile.ErrReviewNotFound)

	people, err := h.store.ListPeople(context.Background())
	require.NoError(t, err)
	assert.Empty(t, people)
}
