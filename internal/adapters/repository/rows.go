package repository

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/okian/tally/internal/domain/event"
)

type interactionEventRow struct {
	ID                uint           `gorm:"primaryKey"`
	EventID           string         `gorm:"column:event_id;size:64;uniqueIndex;not null"`
	UserID            string         `gorm:"size:191;index;not null"`
	SessionID         *string        `gorm:"size:191;index"`
	Timestamp         int64          `gorm:"not null"`
	EventType         string         `gorm:"size:32;index;not null"`
	SourceComponentID *string        `gorm:"size:191"`
	EventData         datatypes.JSON `gorm:"not null"`
	QuestionID        *string        `gorm:"size:191;index"`
	KCIDs             datatypes.JSON `gorm:"column:kc_ids"`
	IsCorrect         *bool
	GameID            *string `gorm:"size:191;index"`
	ContentAtomID     *string `gorm:"size:191"`
	CreatedAt         time.Time
}

func (interactionEventRow) TableName() string { return "interaction_events" }

func eventRowFromRecord(r event.Record) (interactionEventRow, error) { //nolint:gocritic // records are values end to end
	row := interactionEventRow{
		EventID:           r.EventID,
		UserID:            r.UserID,
		SessionID:         optional(r.SessionID),
		Timestamp:         r.Timestamp,
		EventType:         string(r.EventType),
		SourceComponentID: optional(r.SourceComponentID),
		EventData:         datatypes.JSON(r.EventData),
		QuestionID:        optional(r.QuestionID),
		IsCorrect:         r.IsCorrect,
		GameID:            optional(r.GameID),
		ContentAtomID:     optional(r.ContentAtomID),
	}
	if len(r.KCIDs) > 0 {
		raw, err := json.Marshal(r.KCIDs)
		if err != nil {
			return interactionEventRow{}, err
		}
		row.KCIDs = raw
	}
	return row, nil
}

type gameSessionRow struct {
	ID                    string    `gorm:"primaryKey;size:64"`
	UserID                string    `gorm:"size:191;index:idx_session_user_game;not null"`
	GameID                string    `gorm:"size:191;index:idx_session_user_game;not null"`
	AssignmentID          *string   `gorm:"size:64"`
	Subject               string    `gorm:"size:191;not null"`
	SkillArea             *string   `gorm:"size:191"`
	StartTime             time.Time `gorm:"not null"`
	EndTime               *time.Time
	DurationSeconds       *int
	Score                 *float64
	CompletionStatus      string `gorm:"size:32;index;not null"`
	LearningObjectivesMet datatypes.JSON
	EngagementMetrics     datatypes.JSON
	PerformanceData       datatypes.JSON
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (gameSessionRow) TableName() string { return "game_sessions" }

func (r *gameSessionRow) toSession() GameSession {
	s := GameSession{
		ID:              r.ID,
		UserID:          r.UserID,
		GameID:          r.GameID,
		AssignmentID:    deref(r.AssignmentID),
		Subject:         r.Subject,
		SkillArea:       deref(r.SkillArea),
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: r.DurationSeconds,
		Score:           r.Score,
		Status:          SessionStatus(r.CompletionStatus),
	}
	_ = decodeJSON(r.LearningObjectivesMet, &s.LearningObjectivesMet)
	_ = decodeJSON(r.EngagementMetrics, &s.EngagementMetrics)
	_ = decodeJSON(r.PerformanceData, &s.PerformanceData)
	return s
}

type gameAssignmentRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	UserID      string    `gorm:"size:191;index;not null"`
	GameID      string    `gorm:"size:191;not null"`
	Subject     string    `gorm:"size:191"`
	Status      string    `gorm:"size:32;not null"`
	AssignedAt  time.Time `gorm:"not null"`
	DueAt       *time.Time
	CompletedAt *time.Time
	Score       *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (gameAssignmentRow) TableName() string { return "game_assignments" }

func (r *gameAssignmentRow) toAssignment() Assignment {
	return Assignment{
		ID:          r.ID,
		UserID:      r.UserID,
		GameID:      r.GameID,
		Subject:     r.Subject,
		Status:      AssignmentStatus(r.Status),
		AssignedAt:  r.AssignedAt,
		DueAt:       r.DueAt,
		CompletedAt: r.CompletedAt,
		Score:       r.Score,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
