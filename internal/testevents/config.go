package testevents

import (
	"time"

	"github.com/okian/tally/internal/domain/event"
)

// Config holds configuration for the event test
type Config struct {
	BaseURL        string        // Base URL of the service
	NumEvents      int           // Number of events to generate
	Users          int           // Number of distinct learners
	Workers        int           // Number of concurrent submissions
	Rate           float64       // Submissions per second, 0 for unlimited
	DuplicateRatio float64       // Share of submissions that replay an earlier idempotency key
	Sessions       bool          // Bracket each learner's events with a game session
	Secret         string        // JWT secret shared with the service
	Timeout        time.Duration // HTTP request timeout
	SettleTimeout  time.Duration // How long to wait for accepted events to be stored
	Seed           uint64        // Generator seed, 0 for a time based seed
	OutputFile     string        // Output file for events
	LogFile        string        // Log file for test output
	Verbose        bool          // Enable verbose logging
}

// Event is one POST /events submission.
type Event struct {
	UserID         string `json:"-"`
	IdempotencyKey string `json:"-"`
	event.Data
	SourceComponentID string `json:"source_component_id,omitempty"`
}

// AckResponse represents the response from event submission
type AckResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// ServiceStats is the part of GET /stats the test reads.
type ServiceStats struct {
	Started        bool  `json:"started"`
	QueueLength    int   `json:"queueLength"`
	ActiveSessions int   `json:"activeSessions"`
	EventsStored   int64 `json:"eventsStored"`
}

// Stats holds test statistics
type Stats struct {
	EventsGenerated int
	EventsSubmitted int
	EventsAccepted  int
	EventsDuplicate int
	EventsDropped   int
	EventsFailed    int
	SessionsStarted int
	SessionsEnded   int
	StoredBefore    int64
	StoredAfter     int64
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
