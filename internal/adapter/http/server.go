package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/export"
	"github.com/couchcryptid/quake-data-etl/internal/store"
)

const defaultRecentWindow = 24 * time.Hour

// EventStore is the subset of the event store served over HTTP.
type EventStore interface {
	Fetch(ctx context.Context) error
	SetFilters(patch domain.FilterPatch) domain.FilterSpec
	ClearFilters()
	AddRecord(e domain.Event) (domain.Event, error)
	UpdateRecord(id string, patch domain.EventPatch) (bool, error)
	RemoveRecord(id string) bool
	DetectAnomalies()

	Raw() []domain.Event
	Filtered() []domain.Event
	Filters() domain.FilterSpec
	Stats() domain.Stats
	Snapshot() store.Snapshot
	Get(id string) (domain.Event, bool)
	Nearby(lat, lon, radiusKm float64) []domain.Event
	Recent(window time.Duration) []domain.Event
}

// Server exposes the event API alongside health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	store      EventStore
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// the /api/v1 event routes.
func NewServer(addr string, st EventStore, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		store:  st,
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.handleListEvents)
			r.Post("/", s.handleAddEvent)
			r.Get("/filtered", s.handleFilteredEvents)
			r.Get("/nearby", s.handleNearby)
			r.Get("/recent", s.handleRecent)
			r.Get("/{id}", s.handleGetEvent)
			r.Patch("/{id}", s.handleUpdateEvent)
			r.Delete("/{id}", s.handleRemoveEvent)
		})
		r.Get("/filters", s.handleGetFilters)
		r.Patch("/filters", s.handleSetFilters)
		r.Delete("/filters", s.handleClearFilters)
		r.Get("/stats", s.handleStats)
		r.Get("/status", s.handleStatus)
		r.Post("/fetch", s.handleFetch)
		r.Post("/anomalies/detect", s.handleDetectAnomalies)
		r.Get("/export.xlsx", s.handleExport)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type eventsResponse struct {
	Events []domain.Event `json:"earthquakes"`
	Count  int            `json:"count"`
}

type filteredResponse struct {
	Events []domain.Event `json:"filteredEarthquakes"`
	Stats  domain.Stats   `json:"stats"`
}

type statusResponse struct {
	Status     store.Status `json:"status"`
	Error      string       `json:"error,omitempty"`
	LastUpdate *time.Time   `json:"lastUpdate"`
	Total      int          `json:"total"`
	Filtered   int          `json:"filtered"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	writeEvents(w, s.store.Raw())
}

func (s *Server) handleFilteredEvents(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	sharedobs.WriteJSON(w, http.StatusOK, filteredResponse{Events: snap.Filtered, Stats: snap.Stats})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := parseCoordinate(q.Get("lat"), 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("lat: %v", err))
		return
	}
	lon, err := parseCoordinate(q.Get("lon"), 180)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("lon: %v", err))
		return
	}
	var radius float64
	if raw := q.Get("radius"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "radius must be a number in km")
			return
		}
	}
	writeEvents(w, s.store.Nearby(lat, lon, radius))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	window := defaultRecentWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	writeEvents(w, s.store.Recent(window))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, e)
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var e domain.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Source == "" {
		e.Source = domain.SourceKandilli
	}
	stored, err := s.store.AddRecord(e)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	s.logger.Info("event added", "id", stored.ID, "request_id", middleware.GetReqID(r.Context()))
	sharedobs.WriteJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch domain.EventPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch body")
		return
	}
	found, err := s.store.UpdateRecord(id, patch)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	e, _ := s.store.Get(id)
	sharedobs.WriteJSON(w, http.StatusOK, e)
}

// writeRecordError maps a rejected add or update to 400, anything else to 500.
func (s *Server) writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrInvalidRecord) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("record write failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, "record write failed")
}

func (s *Server) handleRemoveEvent(w http.ResponseWriter, r *http.Request) {
	if !s.store.RemoveRecord(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFilters(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.store.Filters())
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var patch domain.FilterPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid filter body: %v", err))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.store.SetFilters(patch))
}

func (s *Server) handleClearFilters(w http.ResponseWriter, _ *http.Request) {
	s.store.ClearFilters()
	sharedobs.WriteJSON(w, http.StatusOK, s.store.Filters())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, toStatusResponse(s.store.Snapshot()))
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	err := s.store.Fetch(r.Context())
	switch {
	case errors.Is(err, store.ErrStaleFetch):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, toStatusResponse(s.store.Snapshot()))
}

func (s *Server) handleDetectAnomalies(w http.ResponseWriter, _ *http.Request) {
	s.store.DetectAnomalies()
	sharedobs.WriteJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, snap.Filtered, snap.Stats); err != nil {
		s.logger.Error("export failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	name := fmt.Sprintf("earthquakes-%s.xlsx", domain.Now().In(domain.ReportingZone).Format("20060102-150405"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func toStatusResponse(snap store.Snapshot) statusResponse {
	return statusResponse{
		Status:     snap.Status,
		Error:      snap.Error,
		LastUpdate: snap.LastUpdate,
		Total:      len(snap.Raw),
		Filtered:   len(snap.Filtered),
	}
}

func parseCoordinate(raw string, limit float64) (float64, error) {
	if raw == "" {
		return 0, errors.New("required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("must be a number")
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("must be within ±%g", limit)
	}
	return v, nil
}

func writeEvents(w http.ResponseWriter, events []domain.Event) {
	if events == nil {
		events = []domain.Event{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
