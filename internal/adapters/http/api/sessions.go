package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/tally/internal/tracking"
)

// Counters accepted by POST /sessions/record.
const (
	recordAction  = "action"
	recordHint    = "hint"
	recordAttempt = "attempt"
)

type sessionRequest struct {
	GameID       string               `json:"game_id"`
	Subject      string               `json:"subject,omitempty"`
	SkillArea    string               `json:"skill_area,omitempty"`
	AssignmentID string               `json:"assignment_id,omitempty"`
	Kind         string               `json:"kind,omitempty"`
	FinalScore   float64              `json:"final_score,omitempty"`
	Objectives   []tracking.Objective `json:"objectives,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// SessionsHandler handles game session lifecycle requests.
type SessionsHandler struct {
	tracker SessionTracker
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(t SessionTracker) *SessionsHandler {
	return &SessionsHandler{tracker: t}
}

// decode reads a session request, writing a 4xx and returning false when the
// request is unusable.
func (h *SessionsHandler) decode(w http.ResponseWriter, r *http.Request, op string) (sessionRequest, bool) {
	var req sessionRequest
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return req, false
	}
	if err := decodeJSON(r, &req); err != nil {
		writeBodyError(w, op, err)
		return req, false
	}
	req.GameID = strings.TrimSpace(req.GameID)
	if req.GameID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing game_id")))
		return req, false
	}
	return req, true
}

// HandleStart handles POST /sessions/start requests.
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "api.session_start")
	if !ok {
		return
	}
	ok = h.tracker.StartSession(r.Context(), req.GameID, req.Subject, req.SkillArea, req.AssignmentID)
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

// HandleRecord handles POST /sessions/record requests.
func (h *SessionsHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_record"
	req, ok := h.decode(w, r, op)
	if !ok {
		return
	}
	ctx := r.Context()
	switch req.Kind {
	case recordAction:
		ok = h.tracker.RecordSessionAction(ctx, req.GameID)
	case recordHint:
		ok = h.tracker.RecordSessionHint(ctx, req.GameID)
	case recordAttempt:
		ok = h.tracker.RecordSessionAttempt(ctx, req.GameID)
	default:
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("kind must be one of action, hint, attempt")))
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

// HandleEnd handles POST /sessions/end requests.
func (h *SessionsHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "api.session_end")
	if !ok {
		return
	}
	ok = h.tracker.EndSession(r.Context(), req.GameID, req.FinalScore, req.Objectives)
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

// HandleAbandon handles POST /sessions/abandon requests.
func (h *SessionsHandler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "api.session_abandon")
	if !ok {
		return
	}
	ok = h.tracker.AbandonSession(r.Context(), req.GameID)
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}
