package event

import (
	"encoding/json"
	"fmt"
)

// Record is the flat row persisted for an Event. Columns that only some
// variants carry are duplicated out of EventData so they can be queried.
type Record struct {
	EventID           string
	UserID            string
	SessionID         string
	Timestamp         int64
	EventType         Type
	SourceComponentID string
	EventData         json.RawMessage
	QuestionID        string
	KCIDs             []string
	IsCorrect         *bool
	GameID            string
	ContentAtomID     string
}

// ToRecord flattens e into its persistence row.
func ToRecord(e Event) (Record, error) {
	v := e.Variant()
	if v == nil {
		return Record{}, wrapInvalid("event %s has no %s payload", e.EventID, e.Type)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %w", ErrEncodePayload, e.EventID, err)
	}

	r := Record{
		EventID:           e.EventID,
		UserID:            e.UserID,
		SessionID:         e.SessionID,
		Timestamp:         e.Timestamp,
		EventType:         e.Type,
		SourceComponentID: e.SourceComponentID,
		EventData:         data,
	}
	switch p := v.(type) {
	case *QuestionAttempt:
		correct := p.IsCorrect
		r.QuestionID = p.QuestionID
		r.KCIDs = p.KCIDs
		r.IsCorrect = &correct
	case *HintUsage:
		r.QuestionID = p.QuestionID
		r.KCIDs = p.KCIDs
	case *TutorQuery:
		r.KCIDs = p.KCIDs
	case *GameInteraction:
		r.GameID = p.GameID
	case *ContentView:
		r.ContentAtomID = p.ContentAtomID
	}
	return r, nil
}
