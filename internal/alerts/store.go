package alerts

import (
	"sync"
	"time"

	"tidespike/internal/model"
)

// Store keeps the most recent spikes in a fixed-size ring.
type Store struct {
	mu    sync.RWMutex
	ring  []model.Spike
	next  int
	full  bool
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, ring: make([]model.Spike, limit)}
}

func (s *Store) Add(spikes ...model.Spike) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range spikes {
		s.ring[s.next] = sp
		s.next = (s.next + 1) % s.limit
		if s.next == 0 {
			s.full = true
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size()
}

func (s *Store) size() int {
	if s.full {
		return s.limit
	}
	return s.next
}

// ordered returns buffered spikes oldest first. Caller holds the lock.
func (s *Store) ordered() []model.Spike {
	n := s.size()
	out := make([]model.Spike, 0, n)
	start := 0
	if s.full {
		start = s.next
	}
	for i := 0; i < n; i++ {
		out = append(out, s.ring[(start+i)%s.limit])
	}
	return out
}

// List returns up to limit of the newest spikes, optionally for one station.
func (s *Store) List(station string, limit int) []model.Spike {
	s.mu.RLock()
	all := s.ordered()
	s.mu.RUnlock()
	out := make([]model.Spike, 0, len(all))
	for _, sp := range all {
		if station == "" || sp.Station == station {
			out = append(out, sp)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Spike {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Spike, 0)
	for _, sp := range s.ordered() {
		if !sp.Timestamp.Before(ts) {
			out = append(out, sp)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = make([]model.Spike, s.limit)
	s.next = 0
	s.full = false
}
