package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voltwise-io/mattergate/internal/lib/logger/sl"
	"github.com/voltwise-io/mattergate/internal/model"
)

// Handle is one logical upstream session. The supervisor owns its lifecycle;
// the exporter only fetches through it.
type Handle interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	FetchIdentity(ctx context.Context) (map[uint64]model.Identity, error)
	FetchElectrical(ctx context.Context, identities map[uint64]model.Identity) ([]model.DeviceEndpointMetric, error)
}

// Supervisor maintains exactly one live upstream session, recycling it with
// a fixed backoff after connect failures, liveness loss, or reported fetch
// failures. The current handle and state live behind one mutex, so readers
// see either the old or the new session in full, never a half-built one.
type Supervisor struct {
	log       *slog.Logger
	newHandle func() Handle
	backoff   time.Duration
	liveness  time.Duration

	mu     sync.RWMutex
	handle Handle
	state  model.ConnState

	failCh chan struct{}
}

func New(log *slog.Logger, newHandle func() Handle, backoff, liveness time.Duration) *Supervisor {
	return &Supervisor{
		log:       log,
		newHandle: newHandle,
		backoff:   backoff,
		liveness:  liveness,
		state:     model.StateDisconnected,
		failCh:    make(chan struct{}, 1),
	}
}

// Run drives the connect / hold / teardown / backoff loop until ctx is
// cancelled. On return the current session, if any, has been disconnected.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info("starting connection supervisor",
		slog.Duration("backoff", s.backoff),
		slog.Duration("liveness_interval", s.liveness),
	)

	for {
		s.transition(model.StateConnecting, nil)

		h := s.newHandle()
		if err := h.Connect(ctx); err != nil {
			s.log.Error("connect failed", sl.Err(err))
			h.Disconnect()
			s.transition(model.StateDisconnected, nil)
			if !s.wait(ctx) {
				return
			}
			continue
		}

		s.transition(model.StateConnected, h)
		s.hold(ctx, h)

		// Swapping the handle out first drains any fetch cycle still
		// holding it; no session is reused across a failure boundary.
		s.transition(model.StateFailing, nil)
		h.Disconnect()
		s.transition(model.StateDisconnected, nil)

		if ctx.Err() != nil {
			s.log.Info("connection supervisor stopped")
			return
		}
		if !s.wait(ctx) {
			s.log.Info("connection supervisor stopped")
			return
		}
	}
}

// hold watches a connected session until it dies, a failure is reported, or
// shutdown is requested.
func (s *Supervisor) hold(ctx context.Context, h Handle) {
	// Discard failure reports left over from a previous session.
	select {
	case <-s.failCh:
	default:
	}

	ticker := time.NewTicker(s.liveness)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.failCh:
			s.log.Warn("fetch failure reported, recycling connection")
			return
		case <-ticker.C:
			if !h.IsConnected() {
				s.log.Warn("gateway session lost, recycling connection")
				return
			}
		}
	}
}

// wait sleeps for the configured backoff; it returns false when shutdown
// interrupts the delay.
func (s *Supervisor) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) transition(state model.ConnState, h Handle) {
	s.mu.Lock()
	s.state = state
	s.handle = h
	s.mu.Unlock()
	s.log.Debug("connection state changed", slog.String("state", state.String()))
}

// Acquire returns the current handle, or nil when no session is live, plus a
// release func. The handle cannot be swapped until release is called, so a
// caller keeps a consistent session for a whole fetch-and-render cycle.
func (s *Supervisor) Acquire() (Handle, func()) {
	s.mu.RLock()
	return s.handle, s.mu.RUnlock
}

// ReportFailure signals that a fetch on the current session failed and the
// session should be torn down and rebuilt. Never blocks.
func (s *Supervisor) ReportFailure(err error) {
	s.log.Warn("upstream failure reported", sl.Err(err))
	select {
	case s.failCh <- struct{}{}:
	default:
	}
}

// State returns the current connection state.
func (s *Supervisor) State() model.ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Backoff returns the configured reconnect delay.
func (s *Supervisor) Backoff() time.Duration {
	return s.backoff
}
