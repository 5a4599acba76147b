package piweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/observability"
)

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second

	// maxPages bounds one Recorded call.
	maxPages = 10000
)

// Client talks to the PI Web API with basic auth.
type Client struct {
	baseURL    string
	user       string
	password   string
	pageSize   int
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a PI Web API client rooted at baseURL (e.g.
// https://historian.example/piwebapi).
func NewClient(baseURL, user, password string, timeout time.Duration, pageSize int, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// ResolveWebID looks up the WebId of the point at a tag path such as
// \\piserver\WP_WC_Nitrate_River.
func (c *Client) ResolveWebID(ctx context.Context, path string) (string, error) {
	u := c.baseURL + "/points?" + url.Values{"path": {path}}.Encode()
	var resp pointResponse
	if err := c.getJSON(ctx, u, "points", &resp); err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if resp.WebID == "" {
		return "", fmt.Errorf("resolve %s: no WebId in response", path)
	}
	return resp.WebID, nil
}

// Recorded pulls every recorded value of a point between start and end,
// following Links.Next until the server stops paging. A Next link seen before,
// or more than maxPages pages, fails the call. Items without a parseable
// timestamp are dropped; observations come back in time order.
func (c *Client) Recorded(ctx context.Context, webID, start, end string) ([]domain.Observation, error) {
	params := url.Values{
		"startTime":      {start},
		"endTime":        {end},
		"maxCount":       {strconv.Itoa(c.pageSize)},
		"selectedFields": {"Items.Timestamp;Items.Value;Links.Next"},
	}
	next := c.baseURL + "/streams/" + url.PathEscape(webID) + "/recorded?" + params.Encode()

	var obs []domain.Observation
	visited := make(map[string]bool)
	pages := 0
	for next != "" {
		if visited[next] {
			return nil, fmt.Errorf("recorded values of %s: next link repeats after %d pages: %s", webID, pages, next)
		}
		if pages == maxPages {
			return nil, fmt.Errorf("recorded values of %s: more than %d pages", webID, maxPages)
		}
		visited[next] = true
		var page recordedResponse
		if err := c.getJSON(ctx, next, "recorded", &page); err != nil {
			return nil, fmt.Errorf("recorded values of %s: %w", webID, err)
		}
		pages++
		for _, it := range page.Items {
			ts, err := time.Parse(time.RFC3339Nano, it.Timestamp)
			if err != nil {
				continue
			}
			v, label, _ := domain.NormalizeValue(it.Value)
			obs = append(obs, domain.Observation{Time: ts.UTC(), Value: v, Label: label})
		}
		next = page.Links.Next
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Time.Before(obs[j].Time) })
	c.logger.Debug("recorded values fetched", "web_id", webID, "pages", pages, "observations", len(obs))
	return obs, nil
}

// getJSON issues a GET and decodes the body into out. Transport errors, 429
// and 5xx responses are retried with backoff; other statuses fail at once.
func (c *Client) getJSON(ctx context.Context, fullURL, endpoint string, out any) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryable, err := c.doRequest(ctx, fullURL, endpoint, out)
		if err == nil {
			c.metrics.HistorianRequests.WithLabelValues(endpoint, "success").Inc()
			return nil
		}
		c.metrics.HistorianRequests.WithLabelValues(endpoint, "error").Inc()
		lastErr = err
		if !retryable || attempt == maxAttempts {
			break
		}
		c.logger.Warn("historian request failed, retrying", "endpoint", endpoint, "attempt", attempt, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
	return lastErr
}

func (c *Client) doRequest(ctx context.Context, fullURL, endpoint string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.HistorianAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retryable, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return false, nil
}

// StatusError is a non-200 PI Web API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("PI Web API error: status %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the historian.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// PI Web API response types.

type pointResponse struct {
	WebID string `json:"WebId"`
	Name  string `json:"Name"`
}

type recordedResponse struct {
	Items []recordedItem `json:"Items"`
	Links struct {
		Next string `json:"Next"`
	} `json:"Links"`
}

type recordedItem struct {
	Timestamp string          `json:"Timestamp"`
	Value     json.RawMessage `json:"Value"`
}
