// Package server exposes stored history over a read-only JSON API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/source"
	"github.com/sells-group/cbdata/internal/store"
)

const (
	defaultBondLimit = 500
	maxBondLimit     = 5000
)

// Reader is the query surface of the store used by the API.
type Reader interface {
	AvailableDates(ctx context.Context) ([]string, error)
	Ratings(ctx context.Context) ([]string, error)
	SearchBonds(ctx context.Context, q store.BondQuery) ([]model.BondRecord, error)
	History(ctx context.Context, bondCode string) ([]model.BondRecord, error)
	ColumnStats(ctx context.Context, tradeDate string) ([]model.ColumnStat, error)
	Totals(ctx context.Context) (bonds, rows int64, err error)
	DateRange(ctx context.Context) (model.DateRange, error)
	LatestQualityReport(ctx context.Context) (*model.QualityReport, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	LoadSourceStates(ctx context.Context) ([]model.SourceState, error)
	SaveSourceStates(ctx context.Context, states []model.SourceState) error
	Ping(ctx context.Context) error
}

// Config holds server dependencies.
type Config struct {
	Port     int
	Store    Reader
	Registry *source.Registry
}

// Server is the HTTP query API.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	store    Reader
	registry *source.Registry
	log      *zap.Logger
}

// New creates a Server with routes installed.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		store:    cfg.Store,
		registry: cfg.Registry,
		log:      zap.L().With(zap.String("component", "server")),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.log.Info("starting http server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/dates", s.handleDates)
		r.Get("/ratings", s.handleRatings)
		r.Get("/bonds", s.handleBonds)
		r.Get("/bonds/{code}/history", s.handleHistory)
		r.Get("/quality/columns", s.handleColumnStats)
		r.Get("/quality/latest", s.handleLatestQuality)
		r.Get("/stats", s.handleStats)
		r.Get("/sources", s.handleSources)
		r.Get("/runs", s.handleRuns)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.store.AvailableDates(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": nonNil(dates)})
}

func (s *Server) handleRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.store.Ratings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ratings": nonNil(ratings)})
}

func (s *Server) handleBonds(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	limit, err := parseLimit(qs.Get("limit"), defaultBondLimit, maxBondLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	q := store.BondQuery{
		TradeDate: qs.Get("date"),
		Keyword:   qs.Get("keyword"),
		Rating:    qs.Get("rating"),
		SortBy:    qs.Get("sort"),
		Desc:      qs.Get("order") == "desc",
		Limit:     limit,
	}
	bonds, err := s.store.SearchBonds(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if bonds == nil {
		bonds = []model.BondRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(bonds), "bonds": bonds})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	rows, err := s.store.History(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no history for " + code})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bond_code": code, "history": rows})
}

func (s *Server) handleColumnStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ColumnStats(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": stats})
}

func (s *Server) handleLatestQuality(w http.ResponseWriter, r *http.Request) {
	rep, err := s.store.LatestQualityReport(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rep == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no quality report yet"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	bonds, rows, err := s.store.Totals(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dr, err := s.store.DateRange(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_bonds":   bonds,
		"total_records": rows,
		"date_range":    dr,
		"last_update":   dr.End,
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	s.registry.Load(r.Context(), s.store)
	writeJSON(w, http.StatusOK, s.registry.StatusReport())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 20, 500)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseLimit(raw string, def, maxLimit int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, eris.Errorf("invalid limit %q", raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
