package notify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/scrypster/contactcard/internal/events"
)

// EventWatcher watches the events directory and republishes each event
// file on a Publisher, removing the file once read.
type EventWatcher struct {
	dir     string
	out     events.Publisher
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewEventWatcher creates a watcher for {dataPath}/events/.
func NewEventWatcher(dataPath string, out events.Publisher, log zerolog.Logger) *EventWatcher {
	return &EventWatcher{
		dir:  filepath.Join(dataPath, "events"),
		out:  events.OrDiscard(out),
		log:  log,
		done: make(chan struct{}),
	}
}

// Start drains any existing event files, then watches for new ones. Call
// Stop to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	ew.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	go ew.loop()
	ew.log.Info().Str("dir", ew.dir).Msg("notify: watching for cross-process events")
	return nil
}

// Stop shuts down the watcher.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isEventFile(evt.Name) {
				ew.processFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			ew.log.Warn().Err(err).Msg("notify: watcher error")
		}
	}
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isEventFile(entry.Name()) {
			ew.processFile(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

func isEventFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".event") && !strings.HasPrefix(base, ".")
}

func (ew *EventWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed
	}
	_ = os.Remove(path)

	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		ew.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("notify: invalid event file")
		return
	}
	if e.Type == "" {
		return
	}
	ew.out.Publish(e)
}
