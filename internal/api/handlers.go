package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PPraveen007/Decoy/internal/anonymization"
	"github.com/PPraveen007/Decoy/internal/capture"
	"github.com/PPraveen007/Decoy/internal/database"
	"github.com/PPraveen007/Decoy/internal/metrics"
	"github.com/PPraveen007/Decoy/internal/server"
)

// APIServer is the operator-facing JSON API over the capture store. It is
// served on its own listener, never on the decoy port.
type APIServer struct {
	apiKey     string
	store      database.CaptureStore
	anonymizer *anonymization.AnonymizationEngine
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewAPIServer creates the API. anonymizer and m may be nil; records are then
// served unredacted and /metrics is not mounted.
func NewAPIServer(apiKey string, store database.CaptureStore, anonymizer *anonymization.AnonymizationEngine, m *metrics.Metrics, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if anonymizer == nil {
		anonymizer = anonymization.NewAnonymizationEngine(false, nil)
	}
	return &APIServer{
		apiKey:     apiKey,
		store:      store,
		anonymizer: anonymizer,
		metrics:    m,
		logger:     logger,
	}
}

// Handler returns the ops router.
func (s *APIServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(server.RequestIDMiddleware("X-Request-ID"))
	r.Use(server.LoggingMiddleware(s.logger, slog.LevelInfo))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.corsMiddleware)
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/interactions", s.handleGetInteractions)
			r.Get("/interactions/{id}", s.handleGetInteraction)
			r.Get("/stats", s.handleGetStats)
		})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

func (s *APIServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) handleGetInteractions(w http.ResponseWriter, r *http.Request) {
	limit := database.DefaultQueryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		// The store clamps out-of-range values.
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	var (
		records []capture.Record
		err     error
	)
	if source := r.URL.Query().Get("source"); source != "" {
		records, err = s.store.QueryBySource(r.Context(), source, limit)
	} else {
		records, err = s.store.QueryRecent(r.Context(), limit)
	}
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	out := make([]capture.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, s.anonymizer.AnonymizeRecord(rec).Record)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid interaction id")
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "interaction not found")
		return
	}
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.anonymizer.AnonymizeRecord(rec).Record)
}

func (s *APIServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	kinds, err := s.store.CountByKind(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if kinds == nil {
		kinds = []database.KindCount{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"summary": stats,
		"kinds":   kinds,
	})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *APIServer) storeError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("capture store query failed",
		slog.String("request_id", server.GetRequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	status := http.StatusInternalServerError
	if errors.Is(err, database.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
