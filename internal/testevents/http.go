package testevents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okian/tally/pkg/logger"
)

const progressInterval = time.Second

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body and optional bearer token.
func (c *HTTPClient) Post(ctx context.Context, url, token string, body any, header http.Header) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.client.Do(req)
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// newLimiter paces submissions; nil means unlimited.
func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

// submitEvents submits events concurrently, at most config.Workers in flight.
func submitEvents(ctx context.Context, config *Config, tokens map[string]string, events []Event, stats *Stats) error {
	log := logger.Get().Named("submit")
	log.Info(ctx, "submitting events", logger.Int("events", len(events)), logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/events"
	limiter := newLimiter(config.Rate, config.Workers)

	var submitted, accepted, duplicate, dropped, failed atomic.Int64
	var lastReport atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(config.Workers, 1))
	for _, e := range events {
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			switch submitSingleEvent(gctx, client, url, tokens[e.UserID], e) {
			case resultAccepted:
				accepted.Add(1)
			case resultDuplicate:
				duplicate.Add(1)
			case resultDropped:
				dropped.Add(1)
			default:
				failed.Add(1)
			}
			total := submitted.Add(1)

			now := time.Now().UnixNano()
			last := lastReport.Load()
			if config.Verbose && now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
				log.Info(gctx, "progress",
					logger.Int64("submitted", total),
					logger.Int("total", len(events)),
					logger.Int64("accepted", accepted.Load()),
					logger.Int64("duplicate", duplicate.Load()),
					logger.Int64("failed", failed.Load()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("submit events: %w", err)
	}

	stats.EventsSubmitted = int(submitted.Load())
	stats.EventsAccepted = int(accepted.Load())
	stats.EventsDuplicate = int(duplicate.Load())
	stats.EventsDropped = int(dropped.Load())
	stats.EventsFailed = int(failed.Load())

	log.Info(ctx, "event submission completed",
		logger.Int("accepted", stats.EventsAccepted),
		logger.Int("duplicate", stats.EventsDuplicate),
		logger.Int("dropped", stats.EventsDropped),
		logger.Int("failed", stats.EventsFailed))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submission interrupted: %w", err)
	}
	return nil
}

// submitSingleEvent submits a single event and returns the result
func submitSingleEvent(ctx context.Context, client *HTTPClient, url, token string, e Event) string {
	var header http.Header
	if e.IdempotencyKey != "" {
		header = http.Header{}
		header.Set("Idempotency-Key", e.IdempotencyKey)
	}
	resp, err := client.Post(ctx, url, token, e, header)
	if err != nil {
		return resultFailed
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return resultFailed
	}

	var ack AckResponse
	switch resp.StatusCode {
	case http.StatusAccepted:
		return resultAccepted
	case http.StatusOK:
		if err := json.Unmarshal(body, &ack); err != nil {
			return resultFailed
		}
		switch ack.Status {
		case resultDuplicate:
			return resultDuplicate
		case resultDropped:
			return resultDropped
		}
		return resultFailed
	default:
		return resultFailed
	}
}

// postSession calls one of the /sessions endpoints and reports its ok flag.
func postSession(ctx context.Context, client *HTTPClient, baseURL, path, token string, body map[string]any) (bool, error) {
	resp, err := client.Post(ctx, baseURL+path, token, body, nil)
	if err != nil {
		return false, fmt.Errorf("post %s: %w", path, err)
	}
	data, err := readResponseBody(resp)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return out.OK, nil
}
