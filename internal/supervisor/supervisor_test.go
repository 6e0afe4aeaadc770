package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voltwise-io/mattergate/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle struct {
	mu           sync.Mutex
	connectErr   error
	connected    bool
	disconnected bool
}

func (f *fakeHandle) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeHandle) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeHandle) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeHandle) dropSession() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeHandle) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeHandle) FetchIdentity(ctx context.Context) (map[uint64]model.Identity, error) {
	return nil, nil
}

func (f *fakeHandle) FetchElectrical(ctx context.Context, identities map[uint64]model.Identity) ([]model.DeviceEndpointMetric, error) {
	return nil, nil
}

// handleFactory hands out fresh fake handles and remembers them in order.
type handleFactory struct {
	mu      sync.Mutex
	handles []*fakeHandle
	prepare func(h *fakeHandle, n int)
}

func (hf *handleFactory) new() Handle {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	h := &fakeHandle{}
	if hf.prepare != nil {
		hf.prepare(h, len(hf.handles))
	}
	hf.handles = append(hf.handles, h)
	return h
}

func (hf *handleFactory) count() int {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return len(hf.handles)
}

func (hf *handleFactory) handle(i int) *fakeHandle {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.handles[i]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSupervisorPublishesConnectedHandle(t *testing.T) {
	hf := &handleFactory{}
	s := New(testLogger(), hf.new, 10*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return s.State() == model.StateConnected },
		"supervisor never reached connected state")

	h, release := s.Acquire()
	if h == nil {
		release()
		t.Fatal("expected a live handle while connected")
	}
	if !h.IsConnected() {
		release()
		t.Fatal("published handle should be connected")
	}
	release()

	cancel()
	<-done

	if s.State() != model.StateDisconnected {
		t.Fatalf("expected disconnected after shutdown, got %v", s.State())
	}
	if !hf.handle(0).wasDisconnected() {
		t.Fatal("shutdown must disconnect the live handle")
	}
}

func TestLivenessLossTriggersOneReconnect(t *testing.T) {
	hf := &handleFactory{}
	backoff := 50 * time.Millisecond
	s := New(testLogger(), hf.new, backoff, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return s.State() == model.StateConnected },
		"supervisor never connected")

	first := hf.handle(0)
	first.dropSession()

	// Within one backoff interval past detection the old handle must be torn
	// down and exactly one new connect attempted.
	waitFor(t, time.Second, func() bool { return first.wasDisconnected() },
		"old handle was not disconnected after liveness loss")
	waitFor(t, time.Second, func() bool { return hf.count() == 2 },
		"no reconnect attempt after liveness loss")

	waitFor(t, time.Second, func() bool { return s.State() == model.StateConnected },
		"supervisor did not reconnect")
	if hf.count() != 2 {
		t.Fatalf("expected exactly one new connect attempt, got %d", hf.count()-1)
	}

	cancel()
	<-done
}

func TestReportFailureRecyclesConnection(t *testing.T) {
	hf := &handleFactory{}
	s := New(testLogger(), hf.new, 10*time.Millisecond, time.Hour) // liveness tick effectively off

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return s.State() == model.StateConnected },
		"supervisor never connected")

	s.ReportFailure(errors.New("fetch blew up"))

	waitFor(t, time.Second, func() bool { return hf.handle(0).wasDisconnected() },
		"reported failure did not tear down the session")
	waitFor(t, time.Second, func() bool { return hf.count() == 2 },
		"reported failure did not trigger a reconnect")

	cancel()
	<-done
}

func TestConnectFailureBacksOffAndRetries(t *testing.T) {
	var attempts atomic.Int64
	hf := &handleFactory{prepare: func(h *fakeHandle, n int) {
		attempts.Add(1)
		if n == 0 {
			h.connectErr = errors.New("gateway down")
		}
	}}
	s := New(testLogger(), hf.new, 10*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return s.State() == model.StateConnected },
		"supervisor never recovered from a failed connect")
	if attempts.Load() < 2 {
		t.Fatalf("expected a retry after connect failure, got %d attempts", attempts.Load())
	}

	cancel()
	<-done
}

func TestShutdownInterruptsBackoff(t *testing.T) {
	hf := &handleFactory{prepare: func(h *fakeHandle, n int) {
		h.connectErr = errors.New("gateway down")
	}}
	s := New(testLogger(), hf.new, time.Hour, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return hf.count() >= 1 },
		"no connect attempt")
	// Give the loop a moment to enter its hour-long backoff wait.
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not interrupt the backoff wait")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("shutdown latency too high: %v", elapsed)
	}
	if s.State() != model.StateDisconnected {
		t.Fatalf("expected disconnected after shutdown, got %v", s.State())
	}
}

func TestAcquireBlocksHandleSwapDuringCycle(t *testing.T) {
	hf := &handleFactory{}
	s := New(testLogger(), hf.new, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return s.State() == model.StateConnected },
		"supervisor never connected")

	h, release := s.Acquire()
	s.ReportFailure(errors.New("boom"))

	// While the cycle holds the handle the supervisor cannot swap it out.
	time.Sleep(30 * time.Millisecond)
	if hf.handle(0).wasDisconnected() {
		release()
		t.Fatal("handle was recycled while a fetch cycle still held it")
	}
	if h != hf.handle(0) {
		release()
		t.Fatal("acquired handle is not the published one")
	}
	release()

	waitFor(t, time.Second, func() bool { return hf.handle(0).wasDisconnected() },
		"handle was not recycled after release")

	cancel()
	<-done
}
