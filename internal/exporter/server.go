package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voltwise-io/mattergate/internal/lib/logger/sl"
	"github.com/voltwise-io/mattergate/internal/model"
	"github.com/voltwise-io/mattergate/internal/supervisor"
)

// HandleSource is the supervisor surface the exporter needs: a consistent
// handle for the duration of one fetch cycle, plus observability of the
// connection state. *supervisor.Supervisor satisfies it.
type HandleSource interface {
	Acquire() (supervisor.Handle, func())
	ReportFailure(err error)
	State() model.ConnState
	Backoff() time.Duration
}

// Journal receives successful snapshots for optional persistence. A nil
// Journal disables it; a journal failure never fails a metrics request.
type Journal interface {
	Record(ctx context.Context, snap model.Snapshot) error
}

type HealthChecker interface {
	Name() string
	Check(ctx context.Context) (bool, string)
}

type healthResponse struct {
	Status            string            `json:"status"`
	UpstreamConnected bool              `json:"upstream_connected"`
	BackoffInterval   string            `json:"backoff_interval"`
	Components        []componentHealth `json:"components,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

type componentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Server is the pull-based read surface: /metrics triggers one fetch cycle
// through the current upstream handle; /health reports connection state and
// never fetches.
type Server struct {
	log          *slog.Logger
	address      string
	source       HandleSource
	store        Store
	journal      Journal
	fetchTimeout time.Duration
	server       *http.Server
	checkers     []HealthChecker
	mu           sync.RWMutex
}

// Store is the snapshot store surface the server writes through.
type Store interface {
	Replace(metrics []model.DeviceEndpointMetric) model.Snapshot
	Clear()
	Current() model.Snapshot
}

func NewServer(log *slog.Logger, address string, source HandleSource, store Store, journal Journal, fetchTimeout time.Duration) *Server {
	return &Server{
		log:          log,
		address:      address,
		source:       source,
		store:        store,
		journal:      journal,
		fetchTimeout: fetchTimeout,
	}
}

func (s *Server) AddChecker(checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, checker)
}

func (s *Server) Start() error {
	r := chi.NewRouter()

	r.Get("/metrics", s.handleMetrics)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	s.server = &http.Server{
		Addr:         s.address,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting exporter server", slog.String("address", s.address))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("exporter server error", sl.Err(err))
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleMetrics runs one fetch-and-render cycle against the current handle.
// Any failure mid-cycle clears the store, so a reader gets either a complete
// snapshot from one cycle or an explicit unavailable response.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h, release := s.source.Acquire()
	defer release()

	if h == nil || !h.IsConnected() {
		s.writeUnavailable(w, "upstream gateway not connected")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.fetchTimeout)
	defer cancel()

	identities, err := h.FetchIdentity(ctx)
	if err != nil {
		s.store.Clear()
		s.source.ReportFailure(err)
		s.log.Error("identity fetch failed", sl.Err(err))
		s.writeUnavailable(w, "identity fetch failed")
		return
	}

	metrics, err := h.FetchElectrical(ctx, identities)
	if err != nil {
		s.store.Clear()
		s.source.ReportFailure(err)
		s.log.Error("electrical fetch failed", sl.Err(err))
		s.writeUnavailable(w, "electrical fetch failed")
		return
	}

	snap := s.store.Replace(metrics)

	var buf bytes.Buffer
	if err := renderSnapshot(&buf, snap); err != nil {
		s.log.Error("snapshot rendering failed", sl.Err(err))
		http.Error(w, "metrics rendering failed", http.StatusInternalServerError)
		return
	}

	if s.journal != nil {
		if err := s.journal.Record(r.Context(), snap); err != nil {
			s.log.Warn("failed to journal snapshot", sl.Err(err))
		}
	}

	w.Header().Set("Content-Type", metricsContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleHealth always succeeds and never triggers a fetch.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make([]HealthChecker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	connected := s.source.State() == model.StateConnected

	resp := healthResponse{
		Status:            "healthy",
		UpstreamConnected: connected,
		BackoffInterval:   s.source.Backoff().String(),
		Timestamp:         time.Now().UTC(),
	}
	if !connected {
		resp.Status = "unhealthy"
	}

	for _, checker := range checkers {
		healthy, message := checker.Check(ctx)
		resp.Components = append(resp.Components, componentHealth{
			Name:    checker.Name(),
			Healthy: healthy,
			Message: message,
		})
		if !healthy {
			resp.Status = "unhealthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) writeUnavailable(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("# " + reason + "\n"))
}
