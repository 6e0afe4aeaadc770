package snapshot

import (
	"sync"
	"time"

	"github.com/voltwise-io/mattergate/internal/model"
)

// Store holds the most recent fully-materialized snapshot. It is written by
// the exporter's fetch cycle and readable by many; the snapshot is swapped
// wholesale so readers never observe a torn mix of two cycles.
type Store struct {
	mu   sync.RWMutex
	snap model.Snapshot
}

func NewStore() *Store {
	return &Store{snap: model.Snapshot{State: model.SnapshotUnavailable}}
}

// Replace installs the result of a completed fetch cycle and returns the
// stored snapshot. Metrics are never mutated after construction, so handing
// out the slice is safe.
func (s *Store) Replace(metrics []model.DeviceEndpointMetric) model.Snapshot {
	snap := model.Snapshot{
		State:   model.SnapshotValid,
		Metrics: metrics,
		TakenAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap
}

// Clear marks the store unavailable, discarding any previous cycle's data.
func (s *Store) Clear() {
	s.mu.Lock()
	s.snap = model.Snapshot{State: model.SnapshotUnavailable}
	s.mu.Unlock()
}

// Current returns the latest snapshot.
func (s *Store) Current() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
