// Package event contains the interaction event model: a tagged union of
// learner actions discriminated by Type.
package event

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type discriminates the variant carried by an Event.
type Type string

// Known event types.
const (
	TypeQuestionAttempt Type = "QUESTION_ATTEMPT"
	TypeHintUsage       Type = "HINT_USAGE"
	TypeGameInteraction Type = "GAME_INTERACTION"
	TypeTutorQuery      Type = "TUTOR_QUERY"
	TypeContentView     Type = "CONTENT_VIEW"
)

// Types lists every known Type in declaration order.
var Types = []Type{ //nolint:gochecknoglobals // read-only enumeration
	TypeQuestionAttempt,
	TypeHintUsage,
	TypeGameInteraction,
	TypeTutorQuery,
	TypeContentView,
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// QuestionAttempt is one answer submitted for a question.
type QuestionAttempt struct {
	QuestionID    string   `json:"question_id"`
	KCIDs         []string `json:"kc_ids,omitempty"`
	IsCorrect     bool     `json:"is_correct"`
	AttemptNumber int      `json:"attempt_number"`
	HintsUsed     int      `json:"hints_used"`
	TimeTakenMS   int64    `json:"time_taken_ms"`
}

// HintUsage is a hint requested while working a question.
type HintUsage struct {
	QuestionID string   `json:"question_id"`
	HintLevel  int      `json:"hint_level"`
	KCIDs      []string `json:"kc_ids,omitempty"`
}

// GameInteraction is an opaque in-game action.
type GameInteraction struct {
	GameID  string         `json:"game_id"`
	Action  string         `json:"action,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// TutorQuery is a question the learner asked the tutor.
type TutorQuery struct {
	Query   string   `json:"query"`
	Context string   `json:"context,omitempty"`
	KCIDs   []string `json:"kc_ids,omitempty"`
}

// ContentView records a learner viewing a content atom.
type ContentView struct {
	ContentAtomID string `json:"content_atom_id"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
}

// Payload holds exactly one variant matching the owning Type.
type Payload struct {
	QuestionAttempt *QuestionAttempt `json:"question_attempt,omitempty"`
	HintUsage       *HintUsage       `json:"hint_usage,omitempty"`
	GameInteraction *GameInteraction `json:"game_interaction,omitempty"`
	TutorQuery      *TutorQuery      `json:"tutor_query,omitempty"`
	ContentView     *ContentView     `json:"content_view,omitempty"`
}

// variant returns the payload selected by t, or nil when it is missing.
func (p Payload) variant(t Type) any {
	switch t {
	case TypeQuestionAttempt:
		if p.QuestionAttempt != nil {
			return p.QuestionAttempt
		}
	case TypeHintUsage:
		if p.HintUsage != nil {
			return p.HintUsage
		}
	case TypeGameInteraction:
		if p.GameInteraction != nil {
			return p.GameInteraction
		}
	case TypeTutorQuery:
		if p.TutorQuery != nil {
			return p.TutorQuery
		}
	case TypeContentView:
		if p.ContentView != nil {
			return p.ContentView
		}
	}
	return nil
}

// count returns how many variants are set.
func (p Payload) count() int {
	n := 0
	if p.QuestionAttempt != nil {
		n++
	}
	if p.HintUsage != nil {
		n++
	}
	if p.GameInteraction != nil {
		n++
	}
	if p.TutorQuery != nil {
		n++
	}
	if p.ContentView != nil {
		n++
	}
	return n
}

// Data is what a producer hands to the assessment logger. Identity,
// timestamp and user are filled in when the event is logged.
type Data struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Payload
}

// MaxIDLength is the longest identifier the store indexes, in bytes.
const MaxIDLength = 191

// ValidateID rejects identifiers the store cannot hold: longer than
// MaxIDLength bytes or containing NUL. Empty is allowed.
func ValidateID(field, v string) error {
	if len(v) > MaxIDLength {
		return wrapInvalid("%s exceeds %d bytes", field, MaxIDLength)
	}
	return validateText(field, v)
}

func validateText(field, v string) error {
	if strings.ContainsRune(v, 0) {
		return wrapInvalid("%s contains a NUL byte", field)
	}
	return nil
}

func validateKCs(field string, kcs []string) error {
	for _, kc := range kcs {
		if err := ValidateID(field, kc); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the discriminator and its payload agree and that
// every identifier fits the store.
func (d Data) Validate() error {
	if !d.Type.Valid() {
		return wrapInvalid("unknown type %q", d.Type)
	}
	if err := ValidateID("session_id", d.SessionID); err != nil {
		return err
	}
	if d.count() != 1 {
		return wrapInvalid("expected exactly one payload, got %d", d.count())
	}
	v := d.variant(d.Type)
	if v == nil {
		return wrapInvalid("payload does not match type %s", d.Type)
	}
	switch p := v.(type) {
	case *QuestionAttempt:
		if blank(p.QuestionID) {
			return wrapInvalid("question_attempt.question_id is required")
		}
		if p.AttemptNumber < 0 || p.HintsUsed < 0 || p.TimeTakenMS < 0 {
			return wrapInvalid("question_attempt counters must not be negative")
		}
		return errors.Join(
			ValidateID("question_attempt.question_id", p.QuestionID),
			validateKCs("question_attempt.kc_ids", p.KCIDs),
		)
	case *HintUsage:
		if blank(p.QuestionID) {
			return wrapInvalid("hint_usage.question_id is required")
		}
		return errors.Join(
			ValidateID("hint_usage.question_id", p.QuestionID),
			validateKCs("hint_usage.kc_ids", p.KCIDs),
		)
	case *GameInteraction:
		if blank(p.GameID) {
			return wrapInvalid("game_interaction.game_id is required")
		}
		return errors.Join(
			ValidateID("game_interaction.game_id", p.GameID),
			validateText("game_interaction.action", p.Action),
		)
	case *TutorQuery:
		if blank(p.Query) {
			return wrapInvalid("tutor_query.query is required")
		}
		return errors.Join(
			validateText("tutor_query.query", p.Query),
			validateText("tutor_query.context", p.Context),
			validateKCs("tutor_query.kc_ids", p.KCIDs),
		)
	case *ContentView:
		if blank(p.ContentAtomID) {
			return wrapInvalid("content_view.content_atom_id is required")
		}
		return ValidateID("content_view.content_atom_id", p.ContentAtomID)
	}
	return nil
}

// Event is a fully attributed interaction event.
type Event struct {
	EventID           string `json:"event_id"`
	Timestamp         int64  `json:"timestamp"`
	UserID            string `json:"user_id"`
	SessionID         string `json:"session_id,omitempty"`
	SourceComponentID string `json:"source_component_id,omitempty"`
	Type              Type   `json:"type"`
	Payload
}

// Variant returns the payload pointer selected by the event's Type.
func (e Event) Variant() any {
	return e.variant(e.Type)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// New attributes data to userID, assigning a fresh id and a millisecond
// timestamp taken from now.
func New(data Data, userID, sourceComponentID string, now time.Time) Event {
	return Event{
		EventID:           uuid.NewString(),
		Timestamp:         now.UnixMilli(),
		UserID:            userID,
		SessionID:         data.SessionID,
		SourceComponentID: sourceComponentID,
		Type:              data.Type,
		Payload:           data.Payload,
	}
}
