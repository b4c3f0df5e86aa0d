// Package memory is the zero-setup skip store used when no database is
// configured. State does not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sonroyaalmerol/voicecal/internal/clock"
)

type Store struct {
	clk clock.Clock

	mu      sync.RWMutex
	skipped map[string]time.Time
}

func New(clk clock.Clock) *Store {
	return &Store{
		clk:     clk,
		skipped: make(map[string]time.Time),
	}
}

func (s *Store) Skip(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skipped[id]; !ok {
		s.skipped[id] = s.clk.Now().UTC()
	}
	return nil
}

func (s *Store) Unskip(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.skipped, id)
	return nil
}

func (s *Store) IsSkipped(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.skipped[id]
	return ok, nil
}

func (s *Store) SkippedIDs(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.skipped))
	for id := range s.skipped {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *Store) Cleanup(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, at := range s.skipped {
		if at.Before(before) {
			delete(s.skipped, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Close() error { return nil }
