package routes

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fink5984/telefeed/internal/rules"
)

func TestStore_StartsEmpty(t *testing.T) {
	s := NewStore()
	snap := s.Current()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Rules)
	assert.True(t, s.Marker().IsZero())
}

func TestStore_TrySwap(t *testing.T) {
	s := NewStore()

	next := &rules.Snapshot{Marker: rules.Marker{ModTime: 10, Size: 3}}
	assert.True(t, s.TrySwap(next))
	assert.Same(t, next, s.Current())

	// same marker: no-op
	again := &rules.Snapshot{Marker: rules.Marker{ModTime: 10, Size: 3}}
	assert.False(t, s.TrySwap(again))
	assert.Same(t, next, s.Current())

	assert.False(t, s.TrySwap(nil))
}

func TestStore_SwapBackToMissingFile(t *testing.T) {
	s := NewStore()
	require.True(t, s.TrySwap(&rules.Snapshot{Marker: rules.Marker{ModTime: 1, Size: 1}}))
	assert.True(t, s.TrySwap(rules.Empty(rules.Marker{})))
	assert.True(t, s.Marker().IsZero())
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				snap := s.Current()
				if snap == nil {
					t.Error("nil snapshot")
					return
				}
			}
		}()
	}
	for i := int64(1); i <= 100; i++ {
		s.TrySwap(&rules.Snapshot{Marker: rules.Marker{ModTime: i, Size: i}})
	}
	wg.Wait()
	assert.Equal(t, rules.Marker{ModTime: 100, Size: 100}, s.Marker())
}
