// Package contacts supplies the read-only address-book snapshot that
// extraction and queries are grounded in.
package contacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/contactcard/internal/events"
	"github.com/scrypster/contactcard/pkg/types"
)

// Reader exposes the current address-book snapshot.
type Reader interface {
	// Snapshot returns a copy of every contact. Callers may keep it.
	Snapshot() []types.ExternalContact
	// Get returns a single contact by id.
	Get(id string) (types.ExternalContact, bool)
}

// StaticReader serves a fixed list.
type StaticReader []types.ExternalContact

func (s StaticReader) Snapshot() []types.ExternalContact { return cloneAll(s) }

func (s StaticReader) Get(id string) (types.ExternalContact, bool) {
	for _, c := range s {
		if c.ID == id {
			return clone(c), true
		}
	}
	return types.ExternalContact{}, false
}

// fileContact is one record of the address-book file.
type fileContact struct {
	ID           string   `yaml:"id"`
	GivenName    string   `yaml:"given_name"`
	FamilyName   string   `yaml:"family_name"`
	Nickname     string   `yaml:"nickname"`
	Organization string   `yaml:"organization"`
	JobTitle     string   `yaml:"job_title"`
	Emails       []string `yaml:"emails"`
	Phones       []string `yaml:"phones"`
}

type addressBook struct {
	Contacts []fileContact `yaml:"contacts"`
}

// Parse decodes an address-book YAML document. The full name is the given
// and family names joined by a space; contacts with neither are dropped, as
// are contacts without an id.
func Parse(data []byte) ([]types.ExternalContact, error) {
	var book addressBook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("contacts: parse: %w", err)
	}

	out := make([]types.ExternalContact, 0, len(book.Contacts))
	seen := make(map[string]bool, len(book.Contacts))
	for _, fc := range book.Contacts {
		id := strings.TrimSpace(fc.ID)
		var parts []string
		for _, p := range []string{fc.GivenName, fc.FamilyName} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if id == "" || len(parts) == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, types.ExternalContact{
			ID:           id,
			FullName:     strings.Join(parts, " "),
			Nickname:     fc.Nickname,
			Organization: fc.Organization,
			JobTitle:     fc.JobTitle,
			Emails:       append([]string{}, fc.Emails...),
			Phones:       append([]string{}, fc.Phones...),
		})
	}
	return out, nil
}

// FileReader loads the address book from a YAML file and, once Watch is
// called, reloads it whenever the file changes. A reload that fails to parse
// keeps the previous snapshot.
type FileReader struct {
	path string
	log  zerolog.Logger
	pub  events.Publisher

	mu       sync.RWMutex
	contacts []types.ExternalContact
	byID     map[string]int

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileReader loads path once. A missing file yields an empty snapshot.
func NewFileReader(path string, pub events.Publisher, log zerolog.Logger) (*FileReader, error) {
	r := &FileReader{
		path: path,
		log:  log,
		pub:  events.OrDiscard(pub),
		byID: map[string]int{},
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file and swaps the snapshot.
func (r *FileReader) Reload() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return fmt.Errorf("contacts: read %s: %w", r.path, err)
	}

	list, err := Parse(data)
	if err != nil {
		return err
	}

	byID := make(map[string]int, len(list))
	for i, c := range list {
		byID[c.ID] = i
	}

	r.mu.Lock()
	r.contacts = list
	r.byID = byID
	r.mu.Unlock()

	r.pub.Publish(events.Event{Type: events.ContactsChanged, Data: len(list)})
	return nil
}

// Snapshot returns a copy of the current contacts.
func (r *FileReader) Snapshot() []types.ExternalContact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.contacts)
}

// Get returns one contact by id.
func (r *FileReader) Get(id string) (types.ExternalContact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return types.ExternalContact{}, false
	}
	return clone(r.contacts[i]), true
}

// Watch starts reloading on changes. The parent directory is watched so
// that editors which replace the file are picked up.
func (r *FileReader) Watch() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	r.watcher = w
	r.done = make(chan struct{})

	go r.loop()
	r.log.Info().Str("path", r.path).Msg("contacts: watching address book")
	return nil
}

// Close stops watching.
func (r *FileReader) Close() {
	if r.watcher == nil {
		return
	}
	_ = r.watcher.Close()
	<-r.done
}

func (r *FileReader) loop() {
	defer close(r.done)
	target := filepath.Clean(r.path)
	for {
		select {
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.log.Warn().Err(err).Msg("contacts: reload failed, keeping previous snapshot")
				continue
			}
			r.log.Debug().Int("contacts", len(r.Snapshot())).Msg("contacts: reloaded")
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn().Err(err).Msg("contacts: watcher error")
		}
	}
}

func clone(c types.ExternalContact) types.ExternalContact {
	c.Emails = append([]string{}, c.Emails...)
	c.Phones = append([]string{}, c.Phones...)
	return c
}

func cloneAll(list []types.ExternalContact) []types.ExternalContact {
	out := make([]types.ExternalContact, len(list))
	for i, c := range list {
		out[i] = clone(c)
	}
	return out
}

var (
	_ Reader = StaticReader(nil)
	_ Reader = (*FileReader)(nil)
)
