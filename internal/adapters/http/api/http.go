// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/tally/internal/domain/dedupe"
	"github.com/okian/tally/internal/domain/difficulty"
	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/internal/tracking"
	"github.com/okian/tally/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

// EventLogger accepts interaction events from producers.
type EventLogger interface {
	LogEvent(ctx context.Context, data event.Data, sourceComponentID string) (event.Event, bool)
}

// SessionTracker drives game sessions of the user in ctx.
type SessionTracker interface {
	StartSession(ctx context.Context, gameID, subject, skillArea, assignmentID string) bool
	RecordSessionAction(ctx context.Context, gameID string) bool
	RecordSessionHint(ctx context.Context, gameID string) bool
	RecordSessionAttempt(ctx context.Context, gameID string) bool
	EndSession(ctx context.Context, gameID string, finalScore float64, objectives []tracking.Objective) bool
	AbandonSession(ctx context.Context, gameID string) bool
}

// HistoryReader summarizes a user's finished sessions of a game.
type HistoryReader interface {
	History(ctx context.Context, userID, gameID string) (difficulty.History, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventLogger
	SessionTracker
	HistoryReader
}

// Verifier turns a bearer token into a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deduper      dedupe.Deduper
	verifier     Verifier
	log          logger.Logger
	maxBodyBytes int64

	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	eventsHandler     *EventsHandler
	sessionsHandler   *SessionsHandler
	difficultyHandler *DifficultyHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		log:          logger.Get().Named("api"),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.eventsHandler = NewEventsHandler(deps, s.deduper)
	s.sessionsHandler = NewSessionsHandler(deps)
	s.difficultyHandler = NewDifficultyHandler(deps)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", s.route(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/sessions/start", s.route(s.sessionsHandler.HandleStart, "sessions_start"))
	mux.HandleFunc("/sessions/record", s.route(s.sessionsHandler.HandleRecord, "sessions_record"))
	mux.HandleFunc("/sessions/end", s.route(s.sessionsHandler.HandleEnd, "sessions_end"))
	mux.HandleFunc("/sessions/abandon", s.route(s.sessionsHandler.HandleAbandon, "sessions_abandon"))
	mux.HandleFunc("/difficulty", s.route(s.difficultyHandler.HandleSuggest, "difficulty"))
	mux.HandleFunc("/difficulty/adjust", s.route(s.difficultyHandler.HandleAdjust, "difficulty_adjust"))
}

// route applies the body limit, authentication and metrics to a producer endpoint.
func (s *Server) route(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	limited := func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next(w, r)
	}
	return MetricsMiddleware(AuthMiddleware(limited, s.verifier, s.log), endpoint)
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

// writeBodyError reports an unreadable request body, distinguishing bodies
// cut off by the size limit.
func writeBodyError(w http.ResponseWriter, op string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrBadRequest, err))
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
}

// decodeJSON reads a single JSON object from r into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return errors.New("body must contain a single JSON object")
	}
	return nil
}
