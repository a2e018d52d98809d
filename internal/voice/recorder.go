// Package voice manages a recording session around an external
// transcription producer. The producer is a black box that streams
// cumulative partial transcripts until it is stopped.
package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/events"
)

// ErrAlreadyRecording is returned by Start while a session is active.
var ErrAlreadyRecording = errors.New("voice: already recording")

// Transcriber produces partial transcripts. Transcribe blocks, calling
// partial with the full text recognised so far each time it changes, and
// returns when ctx is cancelled or the input ends. Returning ctx.Err() after
// cancellation is not treated as a failure.
type Transcriber interface {
	Transcribe(ctx context.Context, partial func(text string)) error
}

// Recorder runs one recording session at a time.
type Recorder struct {
	tr  Transcriber
	pub events.Publisher
	log zerolog.Logger

	mu         sync.Mutex
	recording  bool
	transcript string
	err        error
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewRecorder creates a recorder over tr.
func NewRecorder(tr Transcriber, pub events.Publisher, log zerolog.Logger) *Recorder {
	return &Recorder{tr: tr, pub: events.OrDiscard(pub), log: log}
}

// Start begins a new session. The transcript and any previous error are
// reset. The session ends when Stop is called, ctx is cancelled, or the
// producer finishes.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}

	ctx, cancel := context.WithCancel(ctx)
	r.recording = true
	r.transcript = ""
	r.err = nil
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)

	r.pub.Publish(events.Event{Type: events.RecordingStarted})
	r.log.Debug().Msg("voice: recording started")
	return nil
}

func (r *Recorder) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := r.tr.Transcribe(ctx, func(text string) {
		r.mu.Lock()
		r.transcript = text
		r.mu.Unlock()
		r.pub.Publish(events.Event{Type: events.TranscriptPartial, Data: text})
	})

	r.mu.Lock()
	if err != nil && !errors.Is(err, context.Canceled) {
		r.err = err
		r.log.Warn().Err(err).Msg("voice: transcription failed")
	}
	r.recording = false
	r.cancel()
	text := r.transcript
	r.mu.Unlock()

	r.pub.Publish(events.Event{Type: events.RecordingStopped, Data: text})
}

// Stop ends the session, waits for the producer to return and yields the
// last partial transcript. Calling Stop with no active session returns the
// transcript of the previous one.
func (r *Recorder) Stop() string {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return r.Transcript()
}

// Transcript returns the text captured so far.
func (r *Recorder) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Err returns the producer error that ended the last session, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the current session ends. It is nil before the first
// Start.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
