// Package routes keeps the active rule snapshot of each account and reloads
// it when the rule file changes.
package routes

import (
	"sync/atomic"

	"github.com/fink5984/telefeed/internal/rules"
)

// Store holds the current snapshot of one account. Reads never block and
// never see a partially built snapshot; writers replace the whole snapshot.
type Store struct {
	current atomic.Pointer[rules.Snapshot]
}

// NewStore returns a store holding an empty snapshot at the zero marker.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(rules.Empty(rules.Marker{}))
	return s
}

// Current returns the active snapshot. Callers keep using the returned value
// even if a newer one is swapped in meanwhile.
func (s *Store) Current() *rules.Snapshot {
	return s.current.Load()
}

// Marker returns the marker the active snapshot was loaded at.
func (s *Store) Marker() rules.Marker {
	return s.current.Load().Marker
}

// TrySwap installs next if its marker differs from the active one and reports
// whether it did. An equal marker leaves the store unchanged.
func (s *Store) TrySwap(next *rules.Snapshot) bool {
	if next == nil {
		return false
	}
	for {
		cur := s.current.Load()
		if cur.Marker == next.Marker {
			return false
		}
		if s.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}
