package reconcile

import (
	"errors"
	"sort"
	"sync"
)

// ErrReviewNotFound is returned for an unknown review id.
var ErrReviewNotFound = errors.New("reconcile: review not found")

// Registry holds open reviews in memory. Reviews are transient and are lost
// on restart; the entry they came from can be re-extracted.
type Registry struct {
	mu      sync.RWMutex
	reviews map[string]*Review
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{reviews: make(map[string]*Review)}
}

// Add registers r.
func (g *Registry) Add(r *Review) {
	g.mu.Lock()
	g.reviews[r.ID] = r
	g.mu.Unlock()
}

// Get returns the review with id.
func (g *Registry) Get(id string) (*Review, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	return r, nil
}

// Remove drops the review with id. It reports whether one was present.
func (g *Registry) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.reviews[id]
	delete(g.reviews, id)
	return ok
}

// List returns open reviews, oldest first.
func (g *Registry) List() []*Review {
	g.mu.RLock()
	out := make([]*Review, 0, len(g.reviews))
	for _, r := range g.reviews {
		out = append(out, r)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
