// Package events is an in-process publish/subscribe bus. Recorder state,
// credit balance and review lifecycle changes are published here and the
// WebSocket hub re-broadcasts them to clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event.
type Type string

const (
	RecordingStarted  Type = "recording.started"
	TranscriptPartial Type = "transcript.partial"
	RecordingStopped  Type = "recording.stopped"
	CreditsChanged    Type = "credits.changed"
	EntryCreated      Type = "entry.created"
	ExtractionFailed  Type = "extraction.failed"
	ReviewCreated     Type = "review.created"
	ReviewUpdated     Type = "review.updated"
	ReviewCommitted   Type = "review.committed"
	ReviewDiscarded   Type = "review.discarded"
	PeopleChanged     Type = "people.changed"
	ContactsChanged   Type = "contacts.changed"
)

// Event is one notification. Subject is the id of the thing that changed,
// when there is one.
type Event struct {
	Type    Type      `json:"type"`
	Subject string    `json:"subject,omitempty"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard
	}
	return p
}

// DefaultBuffer is the per-subscriber channel size used by NewBus(0).
const DefaultBuffer = 64

// Bus fans events out to subscribers. A subscriber whose buffer is full
// misses the event; publishers never wait.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Publish delivers e to every subscriber that has room. A zero Time is set
// to now.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes the channel. The cancel function is idempotent.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
