// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/okian/trophy/internal/adapters/directory"
	"github.com/okian/trophy/internal/adapters/http/swagger"
	service "github.com/okian/trophy/internal/app"
	"github.com/okian/trophy/internal/auth"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/model"
	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/pkg/logger"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	StudentDependencies
	LeaderboardDependencies
	RankDependencies
	StatsProvider
	HealthChecker
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// StudentDependencies covers record submission and per-student reads.
type StudentDependencies interface {
	Submit(ctx context.Context, rec model.StudentRecord) (service.SubmitAck, error)
	SubmitBatch(ctx context.Context, recs []model.StudentRecord) ([]service.SubmitAck, error)
	Get(ctx context.Context, urn string) (model.StudentRecord, error)
	Delete(ctx context.Context, urn string) error
	Breakdown(ctx context.Context, urn string) (achievement.Result, error)
	ScoreRecords(ctx context.Context, recs []model.StudentRecord) ([]achievement.Result, error)
}

const (
	defaultMaxLimit       = 100
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 4 << 20
)

// Server wires HTTP routes for the business API.
type Server struct {
	deps Dependencies

	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	studentsHandler    *StudentsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler

	maxLimit    int
	timeout     time.Duration
	corsOrigins []string
	verifier    *auth.Verifier
	logger      logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		maxLimit:    defaultMaxLimit,
		timeout:     defaultRequestTimeout,
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.studentsHandler = NewStudentsHandler(deps)
	s.leaderboardHandler = NewLeaderboardHandler(deps, s.maxLimit)
	s.rankHandler = NewRankHandler(deps)
	return s
}

// Handler builds the chi router serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(MetricsMiddleware(s.logger))

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Handle("/metrics", metricsHandler())
	r.Get("/stats", s.statsHandler.HandleStats)
	swagger.Register(r)

	r.Get("/leaderboard", s.leaderboardHandler.HandleGetLeaderboard)
	r.Get("/rank/{urn}", s.rankHandler.HandleGetRank)
	r.Get("/students/{urn}", s.studentsHandler.HandleGetStudent)
	r.Get("/students/{urn}/score", s.studentsHandler.HandleGetScore)
	r.Post("/score", s.studentsHandler.HandleScore)

	r.Group(func(wr chi.Router) {
		wr.Use(auth.Middleware(s.verifier))
		wr.Use(auth.Require(auth.RoleAdmin, auth.RoleOperator))
		wr.Post("/students", s.studentsHandler.HandlePostStudent)
		wr.Post("/students/batch", s.studentsHandler.HandlePostBatch)
		wr.Delete("/students/{urn}", s.studentsHandler.HandleDeleteStudent)
		wr.Post("/leaderboard/rebuild", s.leaderboardHandler.HandleRebuild)
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure translates service and API kinds into status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidRecord),
		errors.Is(err, service.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrBackpressure), errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, ErrUnavailable), errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// filterFromQuery reads the optional year and branch reporting scope.
func filterFromQuery(r *http.Request) (directory.Filter, error) {
	var f directory.Filter
	q := r.URL.Query()
	if y := q.Get("year"); y != "" {
		year, err := parsePositive(y)
		if err != nil {
			return f, err
		}
		f.Year = year
	}
	f.Branch = q.Get("branch")
	return f, nil
}
