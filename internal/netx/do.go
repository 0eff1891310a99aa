package netx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type request struct {
	method   string
	url      string
	body     []byte
	header   http.Header
	progress ProgressFunc
}

// do runs req with retries. A 401/403 refreshes the URL at most once.
func (c *Client) do(ctx context.Context, req request) (*Response, error) {
	target := c.currentURL(req.url)
	refreshed := false

	for {
		resp, err := c.retry(ctx, req, target)
		if err == nil {
			return resp, nil
		}

		var se *StatusError
		if !errors.As(err, &se) || !se.Auth() || refreshed || c.refresh == nil {
			return nil, err
		}

		next, rerr := c.refreshURL(ctx, req.url)
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v (after %w)", ErrRefreshFailed, rerr, err)
		}
		c.logger.Debug("url refreshed after auth failure", "status", se.StatusCode)
		target = next
		refreshed = true
	}
}

// retry runs one logical request with exponential backoff on transient failures.
func (c *Client) retry(ctx context.Context, req request, target string) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	if c.baseDelay > 0 {
		b.InitialInterval = c.baseDelay
	}
	if c.maxDelay > 0 {
		b.MaxInterval = c.maxDelay
	}
	if c.mult >= 1 {
		b.Multiplier = c.mult
	}

	op := func() (*Response, error) {
		resp, err := c.once(ctx, req, target)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying request", "method", req.method, "error", err, "wait", wait)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.retries)+1),
		backoff.WithNotify(notify),
	)
}

// once performs a single HTTP exchange.
func (c *Client) once(ctx context.Context, req request, target string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	for k, vs := range req.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if c.userAgent != "" {
		hr.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{
			Method:     req.method,
			URL:        redact(target),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	data, err := c.readBody(resp, req.progress)
	if err != nil {
		return nil, err
	}
	return &Response{
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Length:     resp.ContentLength,
	}, nil
}

func (c *Client) readBody(resp *http.Response, progress ProgressFunc) ([]byte, error) {
	var r io.Reader = io.LimitReader(resp.Body, c.maxBody+1)
	if progress != nil {
		r = &progressReader{r: r, total: resp.ContentLength, fn: progress}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.maxBody)
	}
	return data, nil
}

// refreshURL asks the callback for a new URL. Concurrent refreshes of the
// same original URL share one callback invocation.
func (c *Client) refreshURL(ctx context.Context, original string) (string, error) {
	v, err, _ := c.flight.Do(original, func() (any, error) {
		return c.refresh(ctx, original)
	})
	if err != nil {
		return "", err
	}
	next, _ := v.(string)
	if next == "" {
		return "", errors.New("refresh returned an empty url")
	}
	c.refreshed.Add(original, next)
	return next, nil
}

// Refresh forces a refresh of original and returns the new URL.
func (c *Client) Refresh(ctx context.Context, original string) (string, error) {
	if c.refresh == nil {
		return "", fmt.Errorf("%w: no refresh callback configured", ErrRefreshFailed)
	}
	next, err := c.refreshURL(ctx, original)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return next, nil
}

// currentURL returns the last refreshed URL for original, or original.
func (c *Client) currentURL(original string) string {
	if u, ok := c.refreshed.Get(original); ok {
		return u
	}
	return original
}

type progressReader struct {
	r      io.Reader
	total  int64
	loaded int64
	fn     ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.fn(p.loaded, p.total)
	}
	return n, err
}
