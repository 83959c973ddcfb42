// Package fetcher implements the rate-limited, pooled HTTP client used by
// every crawl: a single rehttp-backed *http.Client wrapped with a rate
// limiter, a retry/backoff policy and per-fetch byte/request statistics.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/rehttp"

	"github.com/codepr/docscraper/ratelimit"
)

const (
	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	default429Wait        = 5 * time.Second
	max429Wait            = 60 * time.Second
	defaultTimeout        = 15 * time.Second
	defaultUserAgent      = "Mozilla/5.0 (compatible; docscraper/1.0; +https://github.com/codepr/docscraper)"
	defaultAcceptLanguage = "en"
)

// Response is the full result of a fetch: status, headers and body bytes,
// already read so the underlying connection is returned to the pool before
// the caller sees it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

// Stats is an eventually-consistent snapshot of fetcher activity.
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalBytes         int64
	StartTime          time.Time
}

// Options configures a Fetcher.
type Options struct {
	UserAgent     string
	MaxConns      int
	MaxPerHost    int
	Rate          float64 // tokens/sec
	Burst         int
	MaxRetries    int
	RetryDelay    time.Duration
	Timeout       time.Duration
	Headers       http.Header // merged on top of defaults, per-call headers merge on top of these
}

func (o *Options) setDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 20
	}
	if o.MaxPerHost <= 0 {
		o.MaxPerHost = 10
	}
	if o.Rate <= 0 {
		o.Rate = 10
	}
	if o.Burst <= 0 {
		o.Burst = int(o.Rate)
		if o.Burst < 1 {
			o.Burst = 1
		}
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
}

// Fetcher is a pooled, rate-limited HTTP client with retry/backoff. A
// single Fetcher is meant to be shared across every worker in a crawl: its
// connection pool and rate limiter are resources the whole crawl shares.
type Fetcher struct {
	opts    Options
	client  *http.Client
	limiter *ratelimit.Bucket

	stats Stats
}

// New creates a Fetcher. DNS answers are cached by the underlying
// *http.Transport's connection pool for as long as idle connections are
// kept alive (IdleConnTimeout), satisfying the "cached for several minutes"
// requirement without a bespoke resolver cache.
func New(opts Options) *Fetcher {
	opts.setDefaults()

	transport := rehttp.NewTransport(
		&http.Transport{
			MaxIdleConns:        opts.MaxConns,
			MaxIdleConnsPerHost: opts.MaxPerHost,
			MaxConnsPerHost:     opts.MaxPerHost,
			IdleConnTimeout:     5 * time.Minute,
		},
		retryDecision(opts.MaxRetries),
		retryDelay(opts.RetryDelay),
	)

	return &Fetcher{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter: ratelimit.New(opts.Rate, opts.Burst),
		stats:   Stats{StartTime: time.Now()},
	}
}

// retryDecision builds the rehttp retry predicate: transport errors and 5xx
// are retried until maxRetries total attempts have been made (the initial
// request plus maxRetries-1 retries); 429 is retried until max429Retries+1
// total attempts have been made; any other 4xx is final. Both bounds are
// checked against the same attempt index, so 429 attempts also use up the
// transport-error/5xx budget of the same request.
func retryDecision(maxRetries int) rehttp.RetryFn {
	const max429Retries = 10 // bounds the 429 wait loop to a hard upper limit
	return func(attempt rehttp.Attempt) bool {
		if attempt.Response == nil {
			return attempt.Error != nil && attempt.Index < maxRetries-1
		}
		switch {
		case attempt.Response.StatusCode == http.StatusTooManyRequests:
			return attempt.Index < max429Retries
		case attempt.Response.StatusCode >= 500:
			return attempt.Index < maxRetries-1
		default:
			return false
		}
	}
}

// retryDelay implements exponential backoff `retryDelay * 2^attempt` for
// ordinary retries, and Retry-After (clamped to max429Wait) for 429s.
func retryDelay(base time.Duration) rehttp.DelayFn {
	return func(attempt rehttp.Attempt) time.Duration {
		if attempt.Response != nil && attempt.Response.StatusCode == http.StatusTooManyRequests {
			return retryAfterDelay(attempt.Response.Header.Get("Retry-After"))
		}
		delay := base * (1 << uint(attempt.Index))
		return delay
	}
}

func retryAfterDelay(header string) time.Duration {
	if header == "" {
		return default429Wait
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		if d > max429Wait {
			return max429Wait
		}
		if d <= 0 {
			return default429Wait
		}
		return d
	}
	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d <= 0 {
			return default429Wait
		}
		if d > max429Wait {
			return max429Wait
		}
		return d
	}
	return default429Wait
}

// Fetch performs a single HTTP exchange, rate limited and retried per the
// policy above. It returns a nil Response and a nil error when the final
// status is an HTTP error (4xx besides 429 at once, or 5xx/429 once retries
// are exhausted); a transport error that outlasts every retry is returned
// as a non-nil error. Callers treat either outcome as a queue-level failure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, method string, headers http.Header, body []byte) (*Response, error) {
	f.limiter.Acquire()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	f.applyHeaders(req, headers)

	atomic.AddInt64(&f.stats.TotalRequests, 1)

	start := time.Now()
	resp, err := f.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		atomic.AddInt64(&f.stats.FailedRequests, 1)
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		atomic.AddInt64(&f.stats.FailedRequests, 1)
		return nil, fmt.Errorf("fetch %s: reading body: %w", rawURL, err)
	}
	atomic.AddInt64(&f.stats.TotalBytes, int64(len(data)))

	if resp.StatusCode >= 400 {
		atomic.AddInt64(&f.stats.FailedRequests, 1)
		return nil, nil
	}

	atomic.AddInt64(&f.stats.SuccessfulRequests, 1)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Elapsed:    elapsed,
	}, nil
}

func (f *Fetcher) applyHeaders(req *http.Request, extra http.Header) {
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", defaultAcceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip")
	for k, v := range f.opts.Headers {
		req.Header[k] = v
	}
	for k, v := range extra {
		req.Header[k] = v
	}
}

// FetchText performs a GET and decodes the body as a UTF-8 string.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.Fetch(ctx, rawURL, http.MethodGet, nil, nil)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return string(resp.Body), nil
}

// FetchBytes performs a GET and returns the raw body.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.Fetch(ctx, rawURL, http.MethodGet, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return resp.Body, nil
}

// FetchJSON performs a GET and unmarshals the body into v.
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := f.Fetch(ctx, rawURL, http.MethodGet, nil, nil)
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("fetch json %s: no response", rawURL)
	}
	return json.Unmarshal(resp.Body, v)
}

// Stats returns a snapshot of cumulative fetcher activity.
func (f *Fetcher) Stats() Stats {
	return Stats{
		TotalRequests:      atomic.LoadInt64(&f.stats.TotalRequests),
		SuccessfulRequests: atomic.LoadInt64(&f.stats.SuccessfulRequests),
		FailedRequests:     atomic.LoadInt64(&f.stats.FailedRequests),
		TotalBytes:         atomic.LoadInt64(&f.stats.TotalBytes),
		StartTime:          f.stats.StartTime,
	}
}

// Close releases the connector pool. It is safe to call once, after which
// the Fetcher must not be used again.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}
