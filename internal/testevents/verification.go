package testevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/tally/pkg/logger"
)

// ErrNotPersisted is returned when accepted events never show up in storage.
var ErrNotPersisted = errors.New("accepted events not persisted")

// fetchStats reads GET /stats.
func fetchStats(ctx context.Context, client *HTTPClient, baseURL string) (ServiceStats, error) {
	var s ServiceStats
	resp, err := client.Get(ctx, baseURL+"/stats")
	if err != nil {
		return s, fmt.Errorf("get stats: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return s, fmt.Errorf("read stats: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return s, fmt.Errorf("get stats: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return s, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}

// waitForPersistence polls /stats until at least want events are stored or
// the settle timeout passes. It returns the last count seen.
func waitForPersistence(ctx context.Context, config *Config, want int64) (int64, error) {
	client := newHTTPClient(config.Timeout)
	deadline := time.Now().Add(config.SettleTimeout)
	ticker := time.NewTicker(StatsPollInterval)
	defer ticker.Stop()

	var last int64
	for {
		s, err := fetchStats(ctx, client, config.BaseURL)
		if err != nil {
			logger.Get().Warn(ctx, "stats poll failed", logger.Error(err))
		} else {
			last = s.EventsStored
			if last >= want {
				return last, nil
			}
		}
		if time.Now().After(deadline) {
			return last, fmt.Errorf("%w: stored %d, want %d", ErrNotPersisted, last, want)
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("wait for persistence: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// verifyResults checks the submission outcome against what was stored.
func verifyResults(ctx context.Context, stats *Stats) error {
	logger.Get().Info(ctx, "verifying results")

	if stats.EventsFailed > 0 {
		return fmt.Errorf("%d submissions failed", stats.EventsFailed)
	}
	if got := stats.EventsAccepted + stats.EventsDuplicate + stats.EventsDropped; got != stats.EventsSubmitted {
		return fmt.Errorf("outcomes (%d) do not add up to submissions (%d)", got, stats.EventsSubmitted)
	}
	if stored := stats.StoredAfter - stats.StoredBefore; stored < int64(stats.EventsAccepted) {
		return fmt.Errorf("%w: %d accepted but only %d stored", ErrNotPersisted, stats.EventsAccepted, stored)
	}

	logger.Get().Info(ctx, "result verification completed",
		logger.Int("accepted", stats.EventsAccepted),
		logger.Int64("stored", stats.StoredAfter-stats.StoredBefore))
	return nil
}
