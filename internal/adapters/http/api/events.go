package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/tally/internal/domain/dedupe"
	"github.com/okian/tally/internal/domain/event"
)

// IdempotencyHeader lets producers retry POST /events safely.
const IdempotencyHeader = "Idempotency-Key"

// Event acknowledgement statuses.
const (
	statusAccepted  = "accepted"
	statusDropped   = "dropped"
	statusDuplicate = "duplicate"
)

// eventRequest mirrors the OpenAPI schema for POST /events.
type eventRequest struct {
	event.Data
	SourceComponentID string `json:"source_component_id,omitempty"`
}

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// EventsHandler handles event requests
type EventsHandler struct {
	logger  EventLogger
	deduper dedupe.Deduper
}

// NewEventsHandler creates a new events handler. deduper may be nil.
func NewEventsHandler(l EventLogger, deduper dedupe.Deduper) *EventsHandler {
	return &EventsHandler{logger: l, deduper: deduper}
}

// HandlePostEvent handles POST /events requests
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBodyError(w, op, err)
		return
	}
	if err := errors.Join(req.Validate(), event.ValidateID("source_component_id", req.SourceComponentID)); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if h.deduper != nil && key != "" {
		if id, seen := h.deduper.SeenAndRecord(ctx, key); seen {
			writeJSON(w, http.StatusOK, ackResponse{Status: statusDuplicate, EventID: id})
			return
		}
	}

	e, ok := h.logger.LogEvent(ctx, req.Data, req.SourceComponentID)
	if !ok {
		// Release the key so a retry after signing in is not swallowed.
		if h.deduper != nil && key != "" {
			h.deduper.Unrecord(ctx, key)
		}
		writeJSON(w, http.StatusOK, ackResponse{Status: statusDropped})
		return
	}
	if h.deduper != nil && key != "" {
		h.deduper.Bind(ctx, key, e.EventID)
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: statusAccepted, EventID: e.EventID})
}
