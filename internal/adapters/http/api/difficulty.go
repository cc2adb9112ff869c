package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/internal/domain/difficulty"
)

type difficultyResponse struct {
	Difficulty difficulty.Level `json:"difficulty"`
}

// DifficultyHandler serves difficulty suggestions.
type DifficultyHandler struct {
	history HistoryReader
}

// NewDifficultyHandler creates a new difficulty handler.
func NewDifficultyHandler(h HistoryReader) *DifficultyHandler {
	return &DifficultyHandler{history: h}
}

// HandleSuggest handles GET /difficulty requests. With game_id the history is
// read for the authenticated user; otherwise it is taken from the
// success_rate, attempts and completed parameters.
func (h *DifficultyHandler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	const op = "api.difficulty"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	var hist difficulty.History
	if gameID := strings.TrimSpace(q.Get("game_id")); gameID != "" {
		userID, ok := auth.UserIDFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", NewKind(op, ErrUnauthenticated))
			return
		}
		var err error
		hist, err = h.history.History(r.Context(), userID, gameID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "upstream", WrapKind(op, ErrUpstream, err))
			return
		}
	} else {
		var err error
		hist, err = historyFromQuery(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	writeJSON(w, http.StatusOK, difficultyResponse{Difficulty: difficulty.SuggestInitialDifficulty(hist)})
}

// HandleAdjust handles GET /difficulty/adjust?current=&accuracy=&answered=.
func (h *DifficultyHandler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	const op = "api.difficulty_adjust"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	current, err := difficulty.Parse(q.Get("current"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	accuracy, err := unitFloat(q, "accuracy")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	answered, err := nonNegativeInt(q, "answered")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, difficultyResponse{Difficulty: difficulty.Adjust(current, accuracy, answered)})
}

func historyFromQuery(q url.Values) (difficulty.History, error) {
	var h difficulty.History
	var err error
	if h.SuccessRate, err = unitFloat(q, "success_rate"); err != nil {
		return h, err
	}
	if h.Attempts, err = nonNegativeInt(q, "attempts"); err != nil {
		return h, err
	}
	if raw := q.Get("completed"); raw != "" {
		if h.Completed, err = strconv.ParseBool(raw); err != nil {
			return h, fmt.Errorf("completed: %w", err)
		}
	}
	return h, nil
}

// unitFloat parses an optional parameter in [0,1]. Missing means 0.
func unitFloat(q url.Values, name string) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("%s must be within [0,1]", name)
	}
	return v, nil
}

// nonNegativeInt parses an optional count. Missing means 0.
func nonNegativeInt(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if v < 0 {
		return 0, errors.New(name + " must not be negative")
	}
	return v, nil
}
