package snapshot

import (
	"sync"
	"testing"

	"github.com/voltwise-io/mattergate/internal/model"
)

func TestStoreStartsUnavailable(t *testing.T) {
	s := NewStore()
	if got := s.Current().State; got != model.SnapshotUnavailable {
		t.Fatalf("expected unavailable before any fetch cycle, got %v", got)
	}
}

func TestReplaceThenClear(t *testing.T) {
	s := NewStore()

	snap := s.Replace([]model.DeviceEndpointMetric{{NodeID: 1, EndpointID: 1, Available: true}})
	if snap.State != model.SnapshotValid {
		t.Fatalf("expected valid snapshot after replace, got %v", snap.State)
	}
	if snap.TakenAt.IsZero() {
		t.Fatal("expected TakenAt to be stamped")
	}
	if got := s.Current(); got.State != model.SnapshotValid || len(got.Metrics) != 1 {
		t.Fatalf("unexpected stored snapshot: %+v", got)
	}

	s.Clear()
	got := s.Current()
	if got.State != model.SnapshotUnavailable {
		t.Fatalf("expected unavailable after clear, got %v", got.State)
	}
	if len(got.Metrics) != 0 {
		t.Fatalf("clear must discard previous metrics, got %d", len(got.Metrics))
	}
}

func TestConcurrentReadersNeverSeeTornSnapshot(t *testing.T) {
	s := NewStore()

	stop := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				s.Replace([]model.DeviceEndpointMetric{
					{NodeID: 1, EndpointID: 1, Available: true},
					{NodeID: 2, EndpointID: 1, Available: true},
				})
			} else {
				s.Clear()
			}
		}
	}()

	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 1000; i++ {
				snap := s.Current()
				switch snap.State {
				case model.SnapshotValid:
					if len(snap.Metrics) != 2 {
						t.Errorf("torn snapshot: valid with %d metrics", len(snap.Metrics))
						return
					}
				case model.SnapshotUnavailable:
					if len(snap.Metrics) != 0 {
						t.Errorf("torn snapshot: unavailable with %d metrics", len(snap.Metrics))
						return
					}
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	writer.Wait()
}
