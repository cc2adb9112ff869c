package testevents

import "time"

// Submission outcomes.
const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultDropped   = "dropped"
	resultFailed    = "failed"
)

// Runner configuration constants.
const (
	TokenTTL             = time.Hour
	StatsPollInterval    = 500 * time.Millisecond
	PercentageMultiplier = 100
	SourceComponentID    = "test-events"
)
