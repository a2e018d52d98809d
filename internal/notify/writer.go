// Package notify carries events between processes through files in a shared
// directory. CLI commands that change data write an event file and the
// running server's watcher republishes it on its in-process bus.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scrypster/contactcard/internal/events"
)

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events")}
}

// Notify writes e as an event file. Safe to call concurrently.
func (w *EventWriter) Notify(e events.Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	name := fmt.Sprintf("%d-%s.event", e.Time.UnixNano(), sanitize(string(e.Type)+"-"+e.Subject))
	tmp := filepath.Join(w.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write event: %w", err)
	}
	// Rename so the watcher never sees a half-written file.
	return os.Rename(tmp, filepath.Join(w.dir, name))
}

// Publish implements events.Publisher. Write errors are dropped.
func (w *EventWriter) Publish(e events.Event) {
	_ = w.Notify(e)
}

// sanitize replaces characters unsafe for filenames.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.', ' ':
			return '_'
		}
		return r
	}, s)
}
