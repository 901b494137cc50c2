// Package chi serves quota reports over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/logger"
	"github.com/eliteGoblin/focusd/quota_mon/internal/metrics"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	refreshTimeout      = 30 * time.Second
)

// ReportSource provides the current report and connection state.
type ReportSource interface {
	Latest() (domain.Report, bool)
	LastError() error
	Status() monitor.Status
	Refresh(ctx context.Context) (domain.Report, error)
}

// Server exposes the report, a manual refresh and the journal.
type Server struct {
	source  ReportSource
	journal domain.SnapshotJournal // optional
	logger  *zap.Logger
}

// NewServer creates an HTTP server. journal may be nil.
func NewServer(source ReportSource, journal domain.SnapshotJournal, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{source: source, journal: journal, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.health)
	r.Get("/status", s.status)
	r.Post("/refresh", s.refresh)
	r.Get("/history", s.history)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// requestLogger attaches a logger tagged with the request ID to the request context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.logger.With(
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithLogger(r.Context(), l)))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"connection": s.source.Status().State.String(),
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Connection: toConnection(s.source.Status())}
	if err := s.source.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if report, ok := s.source.Latest(); ok {
		dto := toReport(report)
		resp.Report = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	report, err := s.source.Refresh(ctx)
	if err != nil {
		status := refreshErrorStatus(err)
		logger.FromContext(r.Context()).Info("manual refresh failed", zap.Int("status", status), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toReport(report))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("journal read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal read failed")
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			CapturedAt:    e.CapturedAt,
			Plan:          e.Plan,
			PromptCredits: e.PromptCredits,
			Groups:        e.Groups,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// refreshErrorStatus maps a failed cycle to an HTTP status.
func refreshErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrServiceNotFound),
		errors.Is(err, domain.ErrConnectionLost),
		errors.Is(err, domain.ErrClientClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrResponseMalformed),
		errors.Is(err, domain.ErrUnexpectedStatus):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}
