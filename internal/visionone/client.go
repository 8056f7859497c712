// Package visionone is a minimal client for the Vision One REST API surface
// this audit needs: the IAM account directory and the audit-log stream. Both
// endpoints paginate through a nextLink field in the response body.
package visionone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tmv1-tools/visionone-audit/internal/metrics"
)

const (
	accountsPath  = "/v3.0/iam/accounts"
	auditLogsPath = "/v3.0/audit/logs"

	// filterHeader carries the server-side audit-log filter expression.
	filterHeader = "TMV1-Filter"

	maxAttempts           = 3
	defaultRateLimitDelay = 10 * time.Second
	defaultInterPageDelay = 500 * time.Millisecond
	defaultTimeout        = 30 * time.Second
	maxErrorBodySize      = 1 << 20 // 1 MiB
)

// SleepFunc waits for d or until ctx is done. Injected so backoff behavior
// is testable without real sleeps.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	HTTPClient     *http.Client
	PageTop        int
	InterPageDelay time.Duration
	Logger         *slog.Logger
	Sleep          SleepFunc
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client

	pageTop        int
	interPageDelay time.Duration
	logger         *slog.Logger
	sleep          SleepFunc
}

func New(baseURL, token string, opts Options) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	token = strings.TrimSpace(token)

	if baseURL == "" {
		return nil, errors.New("vision one base url is required")
	}
	if token == "" {
		return nil, errors.New("vision one api token is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	pageTop := opts.PageTop
	if pageTop < 1 {
		pageTop = 100
	}
	interPageDelay := opts.InterPageDelay
	if interPageDelay <= 0 {
		interPageDelay = defaultInterPageDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleepFn := opts.Sleep
	if sleepFn == nil {
		sleepFn = sleepContext
	}

	return &Client{
		baseURL:        baseURL,
		token:          token,
		http:           httpClient,
		pageTop:        pageTop,
		interPageDelay: interPageDelay,
		logger:         logger,
		sleep:          sleepFn,
	}, nil
}

// attemptState is the retry state machine for a single page fetch. Each
// attempt classifies into success, a retryable failure with a backoff that
// is a pure function of the state, or a fatal failure.
type attemptState struct {
	attempt    int
	retryAfter time.Duration // from the Retry-After header, 429 only
	rateLimit  bool
}

// backoff returns the wait before the next attempt. Generic transient
// failures double a one-second base and add a one-second offset. Rate-limit
// responses scale the server-provided Retry-After (default 10s) by 2^attempt.
func (s attemptState) backoff() time.Duration {
	if s.rateLimit {
		base := s.retryAfter
		if base <= 0 {
			base = defaultRateLimitDelay
		}
		return base * time.Duration(1<<s.attempt)
	}
	return time.Duration(1<<s.attempt)*time.Second + time.Second
}

// getPage fetches one page with bounded retries. The extra headers are added
// on top of the standard bearer-token set.
func (c *Client) getPage(ctx context.Context, endpoint string, extra http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			state := attemptState{attempt: attempt}
			if !c.retryAfterFailure(ctx, endpoint, state, lastErr, attempt) {
				return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			body := drainBody(resp)
			metrics.RateLimitHitsTotal.WithLabelValues(endpointLabel(endpoint)).Inc()
			lastErr = formatAPIError("vision one api throttled", resp, body)
			state := attemptState{
				attempt:    attempt,
				retryAfter: retryAfterDuration(resp.Header.Get("Retry-After")),
				rateLimit:  true,
			}
			if !c.retryAfterFailure(ctx, endpoint, state, lastErr, attempt) {
				return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
			}
		case resp.StatusCode >= 500:
			body := drainBody(resp)
			lastErr = formatAPIError("vision one api failed", resp, body)
			state := attemptState{attempt: attempt}
			if !c.retryAfterFailure(ctx, endpoint, state, lastErr, attempt) {
				return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
			}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			body := drainBody(resp)
			return nil, formatAPIError("vision one api rejected request", resp, body)
		default:
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			return body, nil
		}
	}

	return nil, errors.New("vision one request failed")
}

// retryAfterFailure sleeps for the state's backoff and reports whether
// another attempt should be made.
func (c *Client) retryAfterFailure(ctx context.Context, endpoint string, state attemptState, cause error, attempt int) bool {
	if attempt >= maxAttempts-1 {
		return false
	}
	wait := state.backoff()
	metrics.HTTPRetriesTotal.WithLabelValues(endpointLabel(endpoint)).Inc()
	c.logger.Warn("retrying page fetch",
		"endpoint", endpointLabel(endpoint),
		"attempt", attempt+1,
		"wait", wait.String(),
		"error", cause)
	if err := c.sleep(ctx, wait); err != nil {
		return false
	}
	return true
}

// page is the decoded pagination envelope. The server signals the next page
// in either nextLink or @odata.nextLink; both must be checked.
type page struct {
	Items         []json.RawMessage `json:"items"`
	NextLink      string            `json:"nextLink"`
	ODataNextLink string            `json:"@odata.nextLink"`
}

func (p page) next() string {
	if next := strings.TrimSpace(p.NextLink); next != "" {
		return next
	}
	return strings.TrimSpace(p.ODataNextLink)
}

// listPaged walks the page chain starting at endpoint and accumulates raw
// items. On failure the items gathered so far are returned alongside the
// error so callers can decide whether partial data is usable.
func (c *Client) listPaged(ctx context.Context, endpoint string, extra http.Header) ([]json.RawMessage, error) {
	var items []json.RawMessage
	pages := 0
	for endpoint != "" {
		body, err := c.getPage(ctx, endpoint, extra)
		if err != nil {
			return items, err
		}
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return items, fmt.Errorf("decode page %d: %w", pages+1, err)
		}
		items = append(items, p.Items...)
		pages++
		metrics.PagesFetchedTotal.WithLabelValues(endpointLabel(endpoint)).Inc()
		c.logger.Debug("page fetched", "endpoint", endpointLabel(endpoint), "page", pages, "items", len(items))

		endpoint = p.next()
		if endpoint != "" {
			if err := c.sleep(ctx, c.interPageDelay); err != nil {
				return items, err
			}
		}
	}
	return items, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryAfterDuration(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func drainBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	resp.Body.Close()
	return body
}

// endpointLabel strips query strings and host so metric labels stay low
// cardinality.
func endpointLabel(endpoint string) string {
	if i := strings.Index(endpoint, "?"); i >= 0 {
		endpoint = endpoint[:i]
	}
	if i := strings.Index(endpoint, "/v3.0/"); i >= 0 {
		return endpoint[i:]
	}
	return endpoint
}

func formatAPIError(prefix string, resp *http.Response, body []byte) error {
	message := extractAPIErrorMessage(body)
	if message != "" {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, message)
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}

func extractAPIErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		msg := strings.TrimSpace(payload.Error.Message)
		code := strings.TrimSpace(payload.Error.Code)
		if msg != "" && code != "" {
			return code + ": " + msg
		}
		if msg != "" {
			return msg
		}
		if code != "" {
			return code
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return ""
	}
	msg = strings.Join(strings.Fields(msg), " ")
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "…"
	}
	return msg
}
