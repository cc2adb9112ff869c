// Package repository persists interaction events, game sessions and game
// assignments.
package repository

import (
	"context"
	"time"

	"github.com/okian/tally/internal/domain/difficulty"
	"github.com/okian/tally/internal/domain/event"
)

// SessionStatus is the completion status of a game session row.
type SessionStatus string

// Session statuses.
const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// AssignmentStatus is the state of a game assignment.
type AssignmentStatus string

// Assignment statuses.
const (
	AssignmentAssigned  AssignmentStatus = "assigned"
	AssignmentCompleted AssignmentStatus = "completed"
)

// GameSession is one tracked play of a game.
type GameSession struct {
	ID                    string
	UserID                string
	GameID                string
	AssignmentID          string
	Subject               string
	SkillArea             string
	StartTime             time.Time
	EndTime               *time.Time
	DurationSeconds       *int
	Score                 *float64
	Status                SessionStatus
	LearningObjectivesMet []string
	EngagementMetrics     map[string]any
	PerformanceData       map[string]any
}

// SessionUpdate is the single write made when a session ends or is abandoned.
// Nil and empty fields are left untouched.
type SessionUpdate struct {
	Status                SessionStatus
	EndTime               time.Time
	DurationSeconds       *int
	Score                 *float64
	LearningObjectivesMet []string
	EngagementMetrics     map[string]any
	PerformanceData       map[string]any
}

// Assignment is a game assigned to a learner.
type Assignment struct {
	ID          string
	UserID      string
	GameID      string
	Subject     string
	Status      AssignmentStatus
	AssignedAt  time.Time
	DueAt       *time.Time
	CompletedAt *time.Time
	Score       *float64
}

// EventSink stores interaction events in batches.
type EventSink interface {
	// InsertBatch writes records in one call. Records whose event id is
	// already stored are skipped, so a retried batch never duplicates rows.
	InsertBatch(ctx context.Context, records []event.Record) error
}

// SessionStore creates and finalizes game session rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s GameSession) (string, error)
	UpdateSession(ctx context.Context, id string, u SessionUpdate) error
	GetSession(ctx context.Context, id string) (GameSession, error)
	// History summarizes a learner's finished sessions of a game.
	History(ctx context.Context, userID, gameID string) (difficulty.History, error)
}

// AssignmentStore manages game assignments.
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a Assignment) (string, error)
	CompleteAssignment(ctx context.Context, id string, score *float64, at time.Time) error
	GetAssignment(ctx context.Context, id string) (Assignment, error)
}

// Gateway is everything the service persists.
type Gateway interface {
	EventSink
	SessionStore
	AssignmentStore
	CountEvents(ctx context.Context) (int64, error)
	Close() error
}
