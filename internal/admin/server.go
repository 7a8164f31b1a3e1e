// Package admin hosts the administrative HTTP API: forcing cycles,
// dry runs, pause/resume, orphan inspection, claim/release, and hostname
// overrides. It binds to a local port and carries no authentication;
// deployments are expected to keep it off public interfaces.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gitlab.bluewillows.net/root/trafego/internal/reconciler"
	"gitlab.bluewillows.net/root/trafego/internal/scheduler"
	"gitlab.bluewillows.net/root/trafego/internal/store"
	"gitlab.bluewillows.net/root/trafego/pkg/provider"
)

// Control is the slice of the scheduler the API drives.
type Control interface {
	ReconcileNow(ctx context.Context, providerID string) (*reconciler.Result, error)
	DryRun(ctx context.Context, providerID string) (*reconciler.Result, error)
	ForceResync(ctx context.Context, providerID string) (*reconciler.Result, error)
	Pause(providerID string)
	Resume(providerID string)
	Paused(providerID string) bool
	LastResult(providerID string) *reconciler.Result
}

// Server is the admin HTTP server.
type Server struct {
	port      int
	control   Control
	store     *store.Store
	providers *provider.Registry
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates the admin server on the given port.
func New(port int, control Control, st *store.Store, providers *provider.Registry, opts ...Option) *Server {
	s := &Server{
		port:      port,
		control:   control,
		store:     st,
		providers: providers,
		mux:       http.NewServeMux(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/v1/reconcile", s.handleReconcile)
	s.mux.HandleFunc("POST /api/v1/dry-run", s.handleDryRun)
	s.mux.HandleFunc("POST /api/v1/resync", s.handleResync)
	s.mux.HandleFunc("POST /api/v1/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/v1/resume", s.handleResume)
	s.mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/records", s.handleRecords)
	s.mux.HandleFunc("GET /api/v1/orphans", s.handleOrphans)
	s.mux.HandleFunc("POST /api/v1/claim", s.handleClaim)
	s.mux.HandleFunc("POST /api/v1/release", s.handleRelease)
	s.mux.HandleFunc("GET /api/v1/overrides", s.handleListOverrides)
	s.mux.HandleFunc("PUT /api/v1/overrides", s.handleUpsertOverride)
	s.mux.HandleFunc("DELETE /api/v1/overrides", s.handleDeleteOverride)
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves in a background goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("admin server starting", slog.Int("port", s.port))
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("admin server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// providerParam resolves the ?provider= query argument, requiring it to
// name a registered instance.
func (s *Server) providerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("provider")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing provider parameter")
		return "", false
	}
	if _, ok := s.providers.Get(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", id))
		return "", false
	}
	return id, true
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("provider")

	// Without a provider argument, reconcile every enabled instance.
	ids := make([]string, 0, 1)
	if id != "" {
		if _, ok := s.providers.Get(id); !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", id))
			return
		}
		ids = append(ids, id)
	} else {
		for _, inst := range s.providers.All() {
			if s.providers.Enabled(inst.ID()) {
				ids = append(ids, inst.ID())
			}
		}
	}

	results := make([]resultView, 0, len(ids))
	for _, pid := range ids {
		res, err := s.control.ReconcileNow(r.Context(), pid)
		if errors.Is(err, scheduler.ErrReconcileInFlight) {
			results = append(results, resultView{Provider: pid, Coalesced: true})
			continue
		}
		if err != nil {
			results = append(results, resultView{Provider: pid, Error: err.Error()})
			continue
		}
		results = append(results, newResultView(pid, res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	res, err := s.control.DryRun(r.Context(), id)
	if errors.Is(err, scheduler.ErrReconcileInFlight) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newResultView(id, res))
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	res, err := s.control.ForceResync(r.Context(), id)
	if errors.Is(err, scheduler.ErrReconcileInFlight) {
		writeJSON(w, http.StatusAccepted, resultView{Provider: id, Coalesced: true})
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newResultView(id, res))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	s.control.Pause(id)
	writeJSON(w, http.StatusOK, map[string]any{"provider": id, "paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	s.control.Resume(id)
	writeJSON(w, http.StatusOK, map[string]any{"provider": id, "paused": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type providerStatus struct {
		Provider string      `json:"provider"`
		Type     string      `json:"type"`
		Enabled  bool        `json:"enabled"`
		Paused   bool        `json:"paused"`
		Last     *resultView `json:"last_cycle,omitempty"`
	}

	out := make([]providerStatus, 0)
	for _, inst := range s.providers.All() {
		id := inst.ID()
		ps := providerStatus{
			Provider: id,
			Type:     inst.Adapter.Type(),
			Enabled:  s.providers.Enabled(id),
			Paused:   s.control.Paused(id),
		}
		if res := s.control.LastResult(id); res != nil {
			v := newResultView(id, res)
			ps.Last = &v
		}
		out = append(out, ps)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	records, err := s.store.ManagedRecords(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": managedViews(records)})
}

func (s *Server) handleOrphans(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	orphans, err := s.store.Orphans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orphans": managedViews(orphans)})
}

func (s *Server) externalIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	externalID := r.URL.Query().Get("external_id")
	if externalID == "" {
		writeError(w, http.StatusBadRequest, "missing external_id parameter")
		return "", false
	}
	return externalID, true
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	externalID, ok := s.externalIDParam(w, r)
	if !ok {
		return
	}
	err := s.store.SetManaged(r.Context(), id, externalID, true)
	if errors.Is(err, store.ErrNotFound) {
		// Never tracked: a discovered record that only exists in the
		// provider cache. Claiming adopts it.
		err = s.claimDiscovered(r.Context(), id, externalID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":    id,
		"external_id": externalID,
		"managed":     true,
	})
}

// claimDiscovered tracks a cached provider record that has no managed
// row yet.
func (s *Server) claimDiscovered(ctx context.Context, providerID, externalID string) error {
	pr, err := s.store.FindCachedByExternalID(ctx, providerID, externalID)
	if err != nil {
		return err
	}
	if pr == nil {
		return fmt.Errorf("%w: record %s/%s", store.ErrNotFound, providerID, externalID)
	}
	return s.store.Track(ctx, store.ManagedRecord{
		Record:     pr.Record,
		ProviderID: providerID,
		ExternalID: externalID,
		Source:     store.SourceDiscovered,
		Managed:    true,
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	externalID, ok := s.externalIDParam(w, r)
	if !ok {
		return
	}
	if err := s.store.SetManaged(r.Context(), id, externalID, false); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":    id,
		"external_id": externalID,
		"managed":     false,
	})
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.store.Overrides(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (s *Server) handleUpsertOverride(w http.ResponseWriter, r *http.Request) {
	var o store.Override
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid override body: "+err.Error())
		return
	}
	if o.Hostname == "" {
		writeError(w, http.StatusBadRequest, "override hostname required")
		return
	}
	if err := s.store.UpsertOverride(r.Context(), o); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hostname": o.Hostname})
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	hostname := r.URL.Query().Get("hostname")
	if hostname == "" {
		writeError(w, http.StatusBadRequest, "missing hostname parameter")
		return
	}
	if err := s.store.DeleteOverride(r.Context(), hostname); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
