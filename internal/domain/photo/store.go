// Package photo keeps the photos captured during the current session and
// triggers new captures on the device.
package photo

import (
	"sync"
	"time"

	"glass-server-go/internal/util/observable"
)

// Photo is one reconstructed image. Data must not be modified.
type Photo struct {
	ID         uint64    `json:"id"`
	Data       []byte    `json:"-"`
	Size       int       `json:"size"`
	ReceivedAt time.Time `json:"received_at"`
}

// Change describes the store after a mutation.
type Change struct {
	Len        int
	Generation uint64
	LastID     uint64
}

// Store is the ordered, append-only list of photos for the session.
// IDs increase monotonically and are never reused, even across Clear.
type Store struct {
	mu         sync.RWMutex
	photos     []Photo
	nextID     uint64
	generation uint64
	changes    *observable.Publisher[Change]
}

func NewStore() *Store {
	return &Store{
		changes: observable.New(Change{}),
	}
}

// Append stores data as a new photo and notifies subscribers.
func (s *Store) Append(data []byte, receivedAt time.Time) Photo {
	s.mu.Lock()
	s.nextID++
	p := Photo{ID: s.nextID, Data: data, Size: len(data), ReceivedAt: receivedAt}
	s.photos = append(s.photos, p)
	change := s.changeLocked()
	s.mu.Unlock()

	s.changes.Publish(change)
	return p
}

// List returns a copy of all photos in arrival order.
func (s *Store) List() []Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Photo, len(s.photos))
	copy(out, s.photos)
	return out
}

// Len returns the number of photos in the current generation.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.photos)
}

// Since returns the photos after the first n, with the generation they
// belong to so callers can detect a concurrent Clear.
func (s *Store) Since(n int) ([]Photo, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(s.photos) {
		return nil, s.generation
	}
	out := make([]Photo, len(s.photos)-n)
	copy(out, s.photos[n:])
	return out, s.generation
}

// Get looks up a photo by ID.
func (s *Store) Get(id uint64) (Photo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.photos {
		if p.ID == id {
			return p, true
		}
	}
	return Photo{}, false
}

// Clear empties the store and starts a new generation. Calling it on an
// empty store still bumps the generation.
func (s *Store) Clear() {
	s.mu.Lock()
	s.photos = nil
	s.generation++
	change := s.changeLocked()
	s.mu.Unlock()

	s.changes.Publish(change)
}

// Generation counts Clear calls.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Subscribe registers fn for change notifications.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

func (s *Store) changeLocked() Change {
	c := Change{Len: len(s.photos), Generation: s.generation}
	if n := len(s.photos); n > 0 {
		c.LastID = s.photos[n-1].ID
	}
	return c
}
