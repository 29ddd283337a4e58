package winedb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/winelist-scanner/internal/observability"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

const (
	DefaultBaseURL            = "http://localhost:8090"
	DefaultRateLimitPerMinute = 600
	DefaultTimeoutSeconds     = 30

	matchPath  = "/v1/match"
	pricesPath = "/v1/prices/"
	scoresPath = "/v1/scores/"

	maxAttempts  = 4
	maxBodyBytes = 2 << 20
)

type Config struct {
	BaseURL            string       `yaml:"base_url" toml:"base_url"`
	APIKey             string       `yaml:"api_key" toml:"api_key"`
	RateLimitPerMinute int          `yaml:"rate_limit_per_minute" toml:"rate_limit_per_minute"`
	TimeoutSeconds     int          `yaml:"timeout_seconds" toml:"timeout_seconds"`
	HTTPClient         *http.Client `yaml:"-" toml:"-"`
}

// Client talks to the wine identity service. It implements
// winescan.IdentityService and winescan.WineDataService.
type Client struct {
	cfg       Config
	ticker    *time.Ticker
	closeOnce sync.Once
	tracer    trace.Tracer
	log       zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

var (
	_ winescan.IdentityService = (*Client)(nil)
	_ winescan.WineDataService = (*Client)(nil)
)

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("WINEDB_API_KEY not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid winedb base url: %w", err)
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	interval := time.Minute / time.Duration(cfg.RateLimitPerMinute)
	return &Client{
		cfg:    cfg,
		ticker: time.NewTicker(interval),
		tracer: otel.Tracer("github.com/joelkehle/winelist-scanner/internal/winedb"),
		log:    log,
		sleep:  sleepCtx,
	}, nil
}

func (c *Client) Close() {
	c.closeOnce.Do(c.ticker.Stop)
}

type matchRecord struct {
	LWIN        flexString `json:"lwin"`
	LWIN7       flexString `json:"lwin7"`
	DisplayName flexString `json:"display_name"`
	Vintage     flexString `json:"vintage"`
	Varietal    flexString `json:"varietal"`
	Region      flexString `json:"region"`
}

func (c *Client) MatchNames(ctx context.Context, queries []string) ([]winescan.IdentityMatch, error) {
	body, err := c.do(ctx, "match", http.MethodPost, matchPath, nil, map[string]any{"queries": queries})
	if err != nil {
		return nil, err
	}
	records, err := decodeMatchRecords(body)
	if err != nil {
		return nil, err
	}
	out := make([]winescan.IdentityMatch, len(records))
	for i, r := range records {
		if r == nil {
			continue
		}
		out[i] = winescan.IdentityMatch{
			LWIN:        string(r.LWIN),
			LWIN7:       string(r.LWIN7),
			DisplayName: string(r.DisplayName),
			Vintage:     string(r.Vintage),
			Varietal:    string(r.Varietal),
			Region:      string(r.Region),
		}
	}
	return out, nil
}

// decodeMatchRecords accepts a bare array or a {"results": [...]} object.
// null entries stay nil and mean "no match" at that position.
func decodeMatchRecords(body []byte) ([]*matchRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var arr []*matchRecord
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("decode match response: %w", err)
		}
		return arr, nil
	}
	var env struct {
		Results []*matchRecord `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode match response: %w", err)
	}
	return env.Results, nil
}

type priceResponse struct {
	LWIN    flexString `json:"lwin"`
	Vintage flexString `json:"vintage"`
	Region  flexString `json:"region"`
	Stats   *struct {
		Median float64 `json:"median"`
		Min    float64 `json:"min"`
		P25    float64 `json:"p25"`
		P75    float64 `json:"p75"`
		Max    float64 `json:"max"`
		Count  int     `json:"count"`
	} `json:"stats"`
}

func (c *Client) PriceStats(ctx context.Context, lwin, vintage, region string) (winescan.PriceStats, error) {
	q := url.Values{}
	if vintage != "" {
		q.Set("vintage", vintage)
	}
	if region != "" {
		q.Set("region", region)
	}
	body, err := c.do(ctx, "prices", http.MethodGet, pricesPath+url.PathEscape(lwin), q, nil)
	if err != nil {
		return winescan.PriceStats{}, err
	}
	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return winescan.PriceStats{}, fmt.Errorf("decode price response: %w", err)
	}
	out := winescan.PriceStats{
		LWIN:    string(parsed.LWIN),
		Vintage: string(parsed.Vintage),
		Region:  string(parsed.Region),
	}
	if parsed.Stats != nil {
		out.Stats = winescan.PriceStatistics{
			Median: parsed.Stats.Median,
			Min:    parsed.Stats.Min,
			P25:    parsed.Stats.P25,
			P75:    parsed.Stats.P75,
			Max:    parsed.Stats.Max,
			Count:  parsed.Stats.Count,
		}
	}
	return out, nil
}

// CriticScores returns the raw body; the payload shape varies upstream and
// is decoded by the caller.
func (c *Client) CriticScores(ctx context.Context, lwin, vintage string) ([]byte, error) {
	q := url.Values{}
	if vintage != "" {
		q.Set("vintage", vintage)
	}
	return c.do(ctx, "scores", http.MethodGet, scoresPath+url.PathEscape(lwin), q, nil)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body any) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "winedb."+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	target := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	out, code, attempts, err := c.executeWithRetry(ctx, endpoint, method, target, payload)
	span.SetAttributes(attribute.Int("http.status_code", code), attribute.Int("winedb.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, endpoint)
		c.log.Warn().Err(err).Str("endpoint", endpoint).Int("status", code).Int("attempts", attempts).Msg("winedb request_failed")
		return nil, fmt.Errorf("winedb %s: %w", endpoint, err)
	}
	return out, nil
}

func (c *Client) executeWithRetry(ctx context.Context, endpoint, method, target string, payload []byte) ([]byte, int, int, error) {
	var lastErr error
	statusCode := 0
	attempts := 0
	timeoutRetried := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.waitRateLimit(ctx); err != nil {
			return nil, statusCode, attempts, err
		}
		attempts++
		body, code, retryAfter, err := c.executeOnce(ctx, endpoint, method, target, payload)
		statusCode = code
		if err == nil {
			return body, statusCode, attempts, nil
		}
		lastErr = err

		if code == http.StatusTooManyRequests {
			if attempt == maxAttempts {
				break
			}
			wait := retryAfter
			if wait <= 0 {
				wait = backoffDelay(attempt)
			}
			if err := c.sleep(ctx, wait); err != nil {
				return nil, statusCode, attempts, err
			}
			continue
		}
		if code >= 500 || (code == 0 && isTimeoutError(err)) {
			if isTimeoutError(err) {
				if timeoutRetried {
					break
				}
				timeoutRetried = true
			}
			if attempt == maxAttempts {
				break
			}
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return nil, statusCode, attempts, err
			}
			continue
		}
		return nil, statusCode, attempts, err
	}
	return nil, statusCode, attempts, lastErr
}

func (c *Client) executeOnce(ctx context.Context, endpoint, method, target string, payload []byte) ([]byte, int, time.Duration, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	start := time.Now()
	res, err := c.cfg.HTTPClient.Do(req)
	observability.HTTPClientDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.HTTPClientRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, 0, 0, err
	}
	defer res.Body.Close()
	observability.HTTPClientRequests.WithLabelValues(endpoint, strconv.Itoa(res.StatusCode)).Inc()
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode == http.StatusTooManyRequests {
		return nil, res.StatusCode, retryAfter, fmt.Errorf("status code: %d", res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return nil, res.StatusCode, retryAfter, fmt.Errorf("status code: %d body=%s", res.StatusCode, truncate(string(b), 300))
	}
	return b, res.StatusCode, retryAfter, nil
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ticker.C:
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// flexString decodes a JSON string or number into a string. LWINs and
// vintages arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
