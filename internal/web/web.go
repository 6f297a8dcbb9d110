package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"panelcal/internal/config"
	"panelcal/internal/ics"
	appLog "panelcal/internal/log"
	"panelcal/internal/model"
	"panelcal/internal/series"
)

const maxBodyBytes = 1 << 20

// Engine is the series API the HTTP layer drives.
type Engine interface {
	Location() *time.Location
	ParseDate(v string) (time.Time, error)
	OccurrencesOn(ctx context.Context, target time.Time) ([]model.Instance, error)
	OccurrencesBetween(ctx context.Context, from, to time.Time) ([]model.Instance, error)
	NextOccurrence(ctx context.Context, id string, after time.Time) (string, bool, error)
	List(ctx context.Context) ([]model.RecurringEventRecord, error)
	Get(ctx context.Context, id string) (model.RecurringEventRecord, bool, error)
	Create(ctx context.Context, rec model.RecurringEventRecord) (model.RecurringEventRecord, error)
	AddException(ctx context.Context, id, date string) error
	DeleteSeries(ctx context.Context, id string) error
}

// Server exposes the series engine over JSON HTTP endpoints.
type Server struct {
	cfg     *config.Config
	engine  Engine
	metrics *Metrics
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer constructs a new Server. metrics may be nil.
func NewServer(cfg *config.Config, engine Engine, metrics *Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler wrapped with auth and instrumentation.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return s.metrics.instrument(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Half-configured credentials leave auth off.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="panelcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves h on listen until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func Run(ctx context.Context, listen string, h http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/series", s.handleListSeries)
	s.mux.HandleFunc("POST /api/series", s.handleCreateSeries)
	s.mux.HandleFunc("GET /api/series.ics", s.handleExport)
	s.mux.HandleFunc("GET /api/series/{id}", s.handleGetSeries)
	s.mux.HandleFunc("DELETE /api/series/{id}", s.handleDeleteSeries)
	s.mux.HandleFunc("POST /api/series/{id}/exceptions", s.handleAddException)
	s.mux.HandleFunc("GET /api/series/{id}/next", s.handleNext)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type occurrencesResponse struct {
	Date      string           `json:"date,omitempty"`
	From      string           `json:"from,omitempty"`
	To        string           `json:"to,omitempty"`
	Instances []model.Instance `json:"instances"`
}

// GET /api/occurrences?date=YYYY-MM-DD (default today)
// GET /api/occurrences?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	fromStr, toStr := q.Get("from"), q.Get("to")
	if fromStr != "" || toStr != "" {
		if fromStr == "" || toStr == "" {
			writeError(w, http.StatusBadRequest, "from and to must be given together")
			return
		}
		from, err := s.engine.ParseDate(fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		to, err := s.engine.ParseDate(toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		instances, err := s.engine.OccurrencesBetween(ctx, from, to)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.metrics.AddInstances(len(instances))
		writeJSON(w, http.StatusOK, occurrencesResponse{From: fromStr, To: toStr, Instances: instances})
		return
	}

	day, ok := s.dateParam(w, q.Get("date"))
	if !ok {
		return
	}
	instances, err := s.engine.OccurrencesOn(ctx, day)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.AddInstances(len(instances))
	writeJSON(w, http.StatusOK, occurrencesResponse{Date: model.FormatDate(day), Instances: instances})
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.List(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	rec, found, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "series not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var rec model.RecurringEventRecord
	if err := decodeBody(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.engine.Create(r.Context(), rec)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.CountMutation("create")
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSeries(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.CountMutation("delete")
	w.WriteHeader(http.StatusNoContent)
}

type exceptionRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleAddException(w http.ResponseWriter, r *http.Request) {
	var req exceptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.AddException(r.Context(), r.PathValue("id"), req.Date); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.CountMutation("add_exception")
	w.WriteHeader(http.StatusNoContent)
}

type nextResponse struct {
	ID    string `json:"id"`
	After string `json:"after"`
	Next  string `json:"next,omitempty"`
	Found bool   `json:"found"`
}

// GET /api/series/{id}/next?after=YYYY-MM-DD (default today)
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	after, ok := s.dateParam(w, r.URL.Query().Get("after"))
	if !ok {
		return
	}
	id := r.PathValue("id")

	next, found, err := s.engine.NextOccurrence(r.Context(), id, after)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nextResponse{ID: id, After: model.FormatDate(after), Next: next, Found: found})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.List(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="panelcal.ics"`)
	if _, err := ics.Export(w, recs, s.now()); err != nil {
		appLog.Error("failed to write calendar export", err)
	}
}

// dateParam parses a YYYY-MM-DD query value, defaulting to today in the
// engine zone. It writes a 400 and returns false on bad input.
func (s *Server) dateParam(w http.ResponseWriter, v string) (time.Time, bool) {
	if v == "" {
		return model.Midnight(s.now().In(s.engine.Location())), true
	}
	d, err := s.engine.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, false
	}
	return d, true
}

// writeEngineError maps engine errors to HTTP statuses. Anything not a
// caller error is a storage failure.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidDate),
		errors.Is(err, series.ErrInvalidRange),
		errors.Is(err, series.ErrRangeTooLarge),
		errors.Is(err, series.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, series.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
