package testevents

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/tally/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "test_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.InitWithWriter(io.MultiWriter(os.Stdout, file), "text"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the test events tool.
func ShowHelp() {
	os.Stdout.WriteString(`tally Event Test Tool
=====================

Submits synthetic learner interaction events to a running tally service and
checks that every accepted event reaches storage.

Usage:
  go run ./cmd/test-events [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -events int
        Number of events to generate and submit (default 10000)
  -users int
        Number of distinct learners (default 50)
  -workers int
        Number of concurrent submissions (default CPU cores * 2)
  -rate float
        Submissions per second, 0 for unlimited (default 0)
  -dup float
        Share of submissions replaying an earlier idempotency key (default 0.05)
  -sessions
        Start and end a game session per learner around the events
  -secret string
        JWT secret shared with the service (default $TALLY_JWT_SECRET)
  -timeout duration
        HTTP request timeout (default 30s)
  -settle duration
        How long to wait for accepted events to be stored (default 2m)
  -seed uint
        Generator seed, 0 for a time based seed
  -output string
        Output file for generated events (default: generated_events_TIMESTAMP.json)
  -log string
        Log file for test output (default: test_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Test with default settings
  TALLY_JWT_SECRET=dev go run ./cmd/test-events

  # Paced run with sessions
  go run ./cmd/test-events -secret dev -events 50000 -rate 2000 -sessions
`)
}
