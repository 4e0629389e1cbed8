// Package scratch implements the Scratch platform client: typed accessors
// for users, projects, and studios, backed by a persistent request cache,
// per-hostname rate limiting, and indefinite retry on transient failures.
package scratch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	errs "scratcharchive/pkg/errors"
	"scratcharchive/pkg/logger"
	"scratcharchive/pkg/ratelimit"
	"scratcharchive/pkg/requestcache"
	"scratcharchive/pkg/retry"
)

// progressEvery controls how often the client logs a request-count line.
const progressEvery = 100

// Raw is an untyped record as returned by the platform. The archiver
// merges these field by field rather than binding them to structs, so
// every field the platform returns is preserved.
type Raw = map[string]interface{}

// Client is the platform accessor. All outbound calls flow through the
// request cache (when cacheable) and the per-hostname rate limiter, and
// transient failures are retried per the configured policy.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limiter    ratelimit.Limiter
	cache      *requestcache.Cache
	retryCfg   *retry.Config
	logger     logger.Logger

	requestCount   atomic.Int64
	lastCheckpoint atomic.Int64 // unix millis of the last progress line
}

// Options configures a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   ratelimit.Limiter
	Cache     *requestcache.Cache
	Retry     *retry.Config
	Logger    logger.Logger
}

// NewClient creates a platform client. Cache may be nil to disable
// persistent caching (single-flight protection is lost with it).
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewHostLimiter(10, time.Second)
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	headers := map[string]string{
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}

	c := &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		headers:    headers,
		limiter:    opts.Limiter,
		cache:      opts.Cache,
		retryCfg:   opts.Retry,
		logger:     opts.Logger,
	}
	c.lastCheckpoint.Store(time.Now().UnixMilli())
	return c
}

// SetHeader sets a default header applied to every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// requestOptions describe one upstream call.
type requestOptions struct {
	method  string
	headers map[string]string
	body    []byte
	// shape is part of the cache fingerprint: "json", "text", or "bytes".
	shape string
	// noCache bypasses the persistent cache (logins, binary payloads).
	noCache bool
}

// fetch performs one rate-limited, retried HTTP exchange. A 404 is valid
// empty data: it yields a non-nil empty body for the request's shape
// rather than an error, and is cached like any other response.
func (c *Client) fetch(ctx context.Context, rawURL string, opts requestOptions) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "invalid url %q: %v", rawURL, err)
	}
	host := parsed.Hostname()
	method := opts.method
	if method == "" {
		method = http.MethodGet
	}

	attempt := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx, host); err != nil {
			return nil, err
		}

		var bodyReader io.Reader
		if opts.body != nil {
			bodyReader = bytes.NewReader(opts.body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeFatal, "building request: %v", err)
		}
		for key, value := range c.headers {
			req.Header.Set(key, value)
		}
		for key, value := range opts.headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeNetwork, "request to %s failed: %v", host, err)
		}
		defer resp.Body.Close()

		c.logger.DebugWithFields("request completed", map[string]interface{}{
			"method":   method,
			"url":      rawURL,
			"status":   resp.StatusCode,
			"duration": time.Since(start),
		})
		c.countRequest()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := errs.NewWithCode(statusErrorType(resp.StatusCode), resp.StatusCode,
				"%s returned status %d", host, resp.StatusCode)
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			return nil, apiErr
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeNetwork, "reading response from %s: %v", host, err)
		}
		return data, nil
	}

	cfg := *c.retryCfg
	cfg.Context = ctx
	data, err := retry.DoWithResult(attempt, &cfg)
	if err != nil {
		var apiErr *errs.Error
		if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeNotFound {
			return emptyBody(opts.shape), nil
		}
		return nil, err
	}
	return data, nil
}

// emptyBody is the cacheable stand-in for a not-found response: a JSON
// null for json-shaped requests, zero bytes otherwise. Never nil, so
// the request cache can persist it like any other response.
func emptyBody(shape string) []byte {
	if shape == "json" {
		return []byte("null")
	}
	return []byte{}
}

// get runs one request through the cache when allowed.
func (c *Client) get(ctx context.Context, rawURL string, opts requestOptions) ([]byte, error) {
	if c.cache == nil || opts.noCache {
		return c.fetch(ctx, rawURL, opts)
	}
	fingerprint := requestcache.Fingerprint(rawURL, opts.headers, opts.shape)
	return c.cache.Do(ctx, fingerprint, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, rawURL, opts)
	})
}

// getJSON fetches a URL and decodes its JSON body into out. A null body
// (not-found) leaves out untouched.
func (c *Client) getJSON(ctx context.Context, rawURL string, opts requestOptions, out interface{}) error {
	opts.shape = "json"
	data, err := c.get(ctx, rawURL, opts)
	if err != nil {
		return err
	}
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errs.New(errs.ErrorTypeParsing, "decoding %s: %v", rawURL, err)
	}
	return nil
}

// getRecord fetches a single JSON object. A not-found yields nil, nil.
func (c *Client) getRecord(ctx context.Context, rawURL string, opts requestOptions) (Raw, error) {
	var record Raw
	if err := c.getJSON(ctx, rawURL, opts, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// getText fetches a text (HTML) resource. A not-found yields "".
func (c *Client) getText(ctx context.Context, rawURL string, opts requestOptions) (string, error) {
	opts.shape = "text"
	data, err := c.get(ctx, rawURL, opts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// countRequest emits a progress line every progressEvery upstream calls.
func (c *Client) countRequest() {
	n := c.requestCount.Add(1)
	if n%progressEvery != 0 {
		return
	}
	now := time.Now().UnixMilli()
	last := c.lastCheckpoint.Swap(now)
	c.logger.InfoWithFields("request progress", map[string]interface{}{
		"total_requests": n,
		"elapsed":        time.Duration(now-last) * time.Millisecond,
	})
}

func statusErrorType(statusCode int) errs.ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return errs.ErrorTypeRateLimit
	case errs.IsRetryableStatusCode(statusCode):
		return errs.ErrorTypeNetwork
	default:
		return errs.ErrorTypeNotFound
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// applyParams appends query parameters to a URL.
func applyParams(rawURL string, params url.Values) string {
	encoded := params.Encode()
	if encoded == "" {
		return rawURL
	}
	return rawURL + "?" + encoded
}

// fmtID renders a numeric id as a path segment.
func fmtID(id int64) string {
	return strconv.FormatInt(id, 10)
}
