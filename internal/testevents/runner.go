package testevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run executes the complete event test.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting tally event test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("events", config.NumEvents),
		logger.Int("users", config.Users),
		logger.Int("workers", config.Workers),
		logger.Float64("rate", config.Rate),
		logger.Duration("timeout", config.Timeout),
		logger.Bool("sessions", config.Sessions),
		logger.Bool("verbose", config.Verbose))

	client := newHTTPClient(config.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Baseline of stored events
	before, err := fetchStats(ctx, client, config.BaseURL)
	if err != nil {
		return fmt.Errorf("read baseline stats: %w", err)
	}
	stats.StoredBefore = before.EventsStored

	// Step 3: Mint tokens and generate events
	tokens, err := mintTokens(config)
	if err != nil {
		return fmt.Errorf("mint tokens: %w", err)
	}
	events, err := generateEvents(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("event generation failed: %w", err)
	}

	// Step 4: Open sessions
	if config.Sessions {
		if err := runSessions(ctx, client, config, tokens, "/sessions/start", stats); err != nil {
			return fmt.Errorf("start sessions: %w", err)
		}
	}

	// Step 5: Submit events concurrently
	if err := submitEvents(ctx, config, tokens, events, stats); err != nil {
		return fmt.Errorf("event submission failed: %w", err)
	}

	// Step 6: Close sessions
	if config.Sessions {
		if err := runSessions(ctx, client, config, tokens, "/sessions/end", stats); err != nil {
			return fmt.Errorf("end sessions: %w", err)
		}
	}

	// Step 7: Wait for the flusher to persist what was accepted
	logger.Get().Info(ctx, "waiting for events to be stored")
	after, waitErr := waitForPersistence(ctx, config, stats.StoredBefore+int64(stats.EventsAccepted))
	stats.StoredAfter = after

	// Step 8: Verify results
	if err := verifyResults(ctx, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", errors.Join(err, waitErr))
	}

	// Step 9: Save events to file
	if err := saveEventsToFile(ctx, config, events); err != nil {
		logger.Get().Warn(ctx, "failed to save events to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("read health response: %w", err)
	}

	// Any 200 is healthy; the body is the metrics exposition.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// mintTokens issues a bearer token per learner. Without a secret every
// submission is unauthenticated.
func mintTokens(config *Config) (map[string]string, error) {
	tokens := make(map[string]string, config.Users)
	if config.Secret == "" {
		logger.Get().Warn(context.Background(), "no JWT secret; events will be sent unauthenticated")
		return tokens, nil
	}
	verifier, err := auth.NewTokenVerifier(config.Secret)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}
	for i := range max(config.Users, 1) {
		user := userFor(i)
		token, err := verifier.Issue(user, TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue token for %s: %w", user, err)
		}
		tokens[user] = token
	}
	return tokens, nil
}

// runSessions calls path once per learner, concurrently.
func runSessions(ctx context.Context, client *HTTPClient, config *Config, tokens map[string]string, path string, stats *Stats) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(config.Workers, 1))
	oks := make([]bool, max(config.Users, 1))
	for i := range oks {
		user := userFor(i)
		body := map[string]any{"game_id": gameFor(i), "subject": "math"}
		if path == "/sessions/end" {
			body["final_score"] = float64(50 + i%50)
		}
		g.Go(func() error {
			ok, err := postSession(gctx, client, config.BaseURL, path, tokens[user], body)
			oks[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	n := 0
	for _, ok := range oks {
		if ok {
			n++
		}
	}
	if path == "/sessions/start" {
		stats.SessionsStarted = n
	} else {
		stats.SessionsEnded = n
	}
	logger.Get().Info(ctx, "sessions updated", logger.String("path", path), logger.Int("ok", n))
	return nil
}

// saveEventsToFile saves the generated events to a JSON file.
func saveEventsToFile(ctx context.Context, config *Config, events []Event) error {
	if len(events) == 0 {
		return errors.New("no events to save")
	}

	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "generated_events_" + timestamp + ".json"
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	logger.Get().Info(ctx, "events saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats prints the final test statistics.
func displayFinalStats(stats *Stats) {
	var acceptRate, eventsPerSecond float64

	if stats.EventsSubmitted > 0 {
		acceptRate = float64(stats.EventsAccepted) / float64(stats.EventsSubmitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsDropped", stats.EventsDropped),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("sessionsStarted", stats.SessionsStarted),
		logger.Int("sessionsEnded", stats.SessionsEnded),
		logger.Int64("eventsStored", stats.StoredAfter-stats.StoredBefore),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
