package metrics

import (
	"sort"
	"sync"
	"time"

	"tidespike/internal/model"
)

// Store holds the latest run summary per station and a bounded history of
// all runs.
type Store struct {
	mu        sync.RWMutex
	latest    map[string]model.RunSummary
	updatedAt map[string]time.Time
	history   []model.RunSummary
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{
		latest:    make(map[string]model.RunSummary),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(run model.RunSummary) {
	if run.Station == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[run.Station] = run
	s.updatedAt[run.Station] = time.Now().UTC()
	if len(s.latest) > s.limit {
		s.evictOldest()
	}
	s.history = append(s.history, run)
	if len(s.history) > s.limit {
		s.history = append(s.history[:0], s.history[len(s.history)-s.limit:]...)
	}
}

func (s *Store) Get(station string) (model.RunSummary, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.latest[station]
	if !ok {
		return model.RunSummary{}, time.Time{}, false
	}
	return run, s.updatedAt[station], true
}

// Stations returns the latest run of every station ordered by station id.
func (s *Store) Stations() []model.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RunSummary, 0, len(s.latest))
	for _, run := range s.latest {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Station < out[j].Station })
	return out
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(n int) []model.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]model.RunSummary, 0, n)
	for i := len(s.history) - 1; i >= len(s.history)-n; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestStation string
	var oldest time.Time
	for station, ts := range s.updatedAt {
		if oldestStation == "" || ts.Before(oldest) {
			oldestStation = station
			oldest = ts
		}
	}
	if oldestStation != "" {
		delete(s.latest, oldestStation)
		delete(s.updatedAt, oldestStation)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = make(map[string]model.RunSummary)
	s.updatedAt = make(map[string]time.Time)
	s.history = nil
}
