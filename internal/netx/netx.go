// Package netx wraps outbound HTTP with retry, pacing and signed-URL refresh.
//
// Transient failures (transport errors, 429, 5xx) are retried with
// exponential backoff. A 401 or 403 triggers the injected RefreshFunc once
// per request; concurrent refreshes of the same URL share one call. Any
// other non-2xx status becomes a *StatusError without retry.
package netx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
)

const (
	// DefaultMaxBodyBytes bounds a single response body.
	DefaultMaxBodyBytes = 256 << 20

	// MaxRefreshedURLs bounds the original -> refreshed URL cache.
	MaxRefreshedURLs = 200
)

// Sentinel errors.
var (
	ErrBodyTooLarge  = errors.New("response body exceeds limit")
	ErrRefreshFailed = errors.New("url refresh failed")
)

// RefreshFunc returns a fresh URL for an expired or unauthorized one.
type RefreshFunc func(ctx context.Context, originalURL string) (string, error)

// ProgressFunc receives cumulative bytes read and the expected total
// (-1 when unknown).
type ProgressFunc func(loaded, total int64)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %s", e.Method, e.URL, e.Status)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Auth reports whether the status signals an expired or missing credential.
func (e *StatusError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string // final URL, after any refresh
	StatusCode int
	Header     http.Header
	Body       []byte
	Length     int64 // Content-Length as reported, -1 when unknown
}

// TotalSize returns the full resource size from a Content-Range header
// ("bytes 0-8191/123456"), or -1.
func (r *Response) TotalSize() int64 {
	cr := r.Header.Get("Content-Range")
	i := strings.LastIndexByte(cr, '/')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(cr[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Client performs resilient requests. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	refresh   RefreshFunc
	logger    *slog.Logger
	userAgent string
	retries   int
	baseDelay time.Duration
	maxDelay  time.Duration
	mult      float64
	maxBody   int64

	flight    singleflight.Group
	refreshed *lru.Cache[string, string] // original URL -> last refreshed URL
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRefresh sets the signed-URL refresh callback.
func WithRefresh(fn RefreshFunc) Option {
	return func(c *Client) { c.refresh = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.OrDiscard(l) }
}

// WithMaxBodyBytes bounds response bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New builds a client from the network and retry settings of cfg.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		limiter:   rate.NewLimiter(rate.Limit(cfg.Network.RequestsPerSecond), cfg.Network.Burst),
		logger:    logging.Discard(),
		userAgent: cfg.Network.UserAgent,
		retries:   cfg.Network.FetchRetries,
		baseDelay: cfg.Retry.BaseDelay(),
		maxDelay:  cfg.Retry.MaxDelay(),
		mult:      cfg.Retry.Multiplier,
		maxBody:   DefaultMaxBodyBytes,
	}
	// New only fails for a non-positive size.
	c.refreshed, _ = lru.New[string, string](MaxRefreshedURLs)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanRefresh reports whether a refresh callback is configured.
func (c *Client) CanRefresh() bool { return c.refresh != nil }

// Get fetches rawURL. onProgress may be nil.
func (c *Client) Get(ctx context.Context, rawURL string, onProgress ProgressFunc) (*Response, error) {
	return c.do(ctx, request{method: http.MethodGet, url: rawURL, progress: onProgress})
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	return c.do(ctx, request{method: http.MethodHead, url: rawURL})
}

// GetRange fetches bytes [start, end] of rawURL. Servers that ignore Range
// answer 200 with the full body; callers check StatusCode.
func (c *Client) GetRange(ctx context.Context, rawURL string, start, end int64) (*Response, error) {
	h := http.Header{}
	h.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	return c.do(ctx, request{method: http.MethodGet, url: rawURL, header: h})
}

// PostJSON posts in as JSON and decodes the response into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, rawURL string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	resp, err := c.do(ctx, request{method: http.MethodPost, url: rawURL, body: body, header: h})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", redact(rawURL), err)
	}
	return nil
}

// redact strips the query string, which carries signatures on signed URLs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
