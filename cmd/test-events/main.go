package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/tally/internal/testevents"
)

// Default configuration constants.
const (
	defaultNumEvents      = 10000
	defaultUsers          = 50
	defaultWorkers        = 2 // multiplier for runtime.NumCPU()
	defaultDuplicateRatio = 0.05
	defaultTimeout        = 30 * time.Second
	defaultSettleTimeout  = 2 * time.Minute
	defaultTestTimeout    = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of events to generate and submit")
		users      = flag.Int("users", defaultUsers, "Number of distinct learners")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submissions")
		ratePerSec = flag.Float64("rate", 0, "Submissions per second, 0 for unlimited")
		dupRatio   = flag.Float64("dup", defaultDuplicateRatio, "Share of submissions replaying an earlier idempotency key")
		sessions   = flag.Bool("sessions", false, "Start and end a game session per learner around the events")
		secret     = flag.String("secret", os.Getenv("TALLY_JWT_SECRET"), "JWT secret shared with the service")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettleTimeout, "How long to wait for accepted events to be stored")
		seed       = flag.Uint64("seed", 0, "Generator seed, 0 for a time based seed")
		outputFile = flag.String("output", "", "Output file for generated events (default: generated_events_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for test output (default: test_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	if err := testevents.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	config := &testevents.Config{
		BaseURL:        *baseURL,
		NumEvents:      *numEvents,
		Users:          *users,
		Workers:        *workers,
		Rate:           *ratePerSec,
		DuplicateRatio: *dupRatio,
		Sessions:       *sessions,
		Secret:         *secret,
		Timeout:        *timeout,
		SettleTimeout:  *settle,
		Seed:           *seed,
		OutputFile:     *outputFile,
		LogFile:        *logFile,
		Verbose:        *verbose,
	}

	if err := run(config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// run executes the test until it finishes, times out or is interrupted.
func run(config *testevents.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()
	return testevents.Run(ctx, config)
}
