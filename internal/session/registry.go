package session

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kalambet/datalens/internal/table"
)

// Registry keeps live sessions in memory. Sessions expire after ttl without
// access.
type Registry struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRegistry creates a registry that purges expired sessions every 10 minutes.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Registry{cache: cache.New(ttl, 10*time.Minute), ttl: ttl}
}

// Create starts and stores a new session over tables.
func (r *Registry) Create(tables []*table.Table) *Session {
	s := New(tables)
	r.Put(s)
	return s
}

func (r *Registry) Put(s *Session) {
	r.cache.Set(s.ID, s, cache.DefaultExpiration)
}

// Get returns the session and extends its lifetime.
func (r *Registry) Get(id string) (*Session, bool) {
	x, found := r.cache.Get(id)
	if !found {
		return nil, false
	}
	s := x.(*Session)
	r.cache.Set(id, s, cache.DefaultExpiration)
	return s, true
}

// Delete tears the session down.
func (r *Registry) Delete(id string) {
	r.cache.Delete(id)
}

// Len counts sessions, including expired ones not yet purged.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// SetQuestions stores suggested questions on a live session.
func (r *Registry) SetQuestions(id string, qs []string) error {
	x, found := r.cache.Get(id)
	if !found {
		return fmt.Errorf("session %s: not found", id)
	}
	x.(*Session).SetQuestions(qs)
	return nil
}

// Tables returns the tables of a live session.
func (r *Registry) Tables(id string) ([]*table.Table, error) {
	x, found := r.cache.Get(id)
	if !found {
		return nil, fmt.Errorf("session %s: not found", id)
	}
	return x.(*Session).Tables(), nil
}
