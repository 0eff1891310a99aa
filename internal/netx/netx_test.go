package netx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alnah/go-pdfrender/internal/config"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Retry.BaseDelayMs = 1
	cfg.Retry.MaxDelayMs = 5
	cfg.Network.FetchRetries = 2
	cfg.Network.RequestsPerSecond = 1000
	cfg.Network.Burst = 100
	return *cfg
}

func TestGet_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "go-pdfrender" {
			t.Errorf("User-Agent = %q", got)
		}
		w.Header().Set("Content-Length", "9")
		fmt.Fprint(w, "%PDF-1.7\n")
	}))
	defer srv.Close()

	var lastLoaded, lastTotal int64
	c := New(testConfig())
	resp, err := c.Get(context.Background(), srv.URL, func(loaded, total int64) {
		lastLoaded, lastTotal = loaded, total
	})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(resp.Body) != "%PDF-1.7\n" {
		t.Errorf("Body = %q", resp.Body)
	}
	if lastLoaded != 9 || lastTotal != 9 {
		t.Errorf("progress = %d/%d, want 9/9", lastLoaded, lastTotal)
	}
	if resp.Length != 9 {
		t.Errorf("Length = %d, want 9", resp.Length)
	}
}

func TestGet_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	resp, err := New(testConfig()).Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want ok", resp.Body)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("hits = %d, want 3", got)
	}
}

func TestGet_RetryCeiling(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(testConfig()).Get(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("Get() error = %v, want 502 StatusError", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("hits = %d, want 3 (1 + 2 retries)", got)
	}
}

func TestGet_NotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New(testConfig()).Get(context.Background(), srv.URL+"/doc.pdf?sig=secret", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Get() error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Temporary() || se.Auth() {
		t.Errorf("StatusError = %+v", se)
	}
	if strings.Contains(se.Error(), "secret") {
		t.Errorf("error leaks query string: %v", se)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestGet_RefreshOnAuthFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sig") != "fresh" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "pdf")
	}))
	defer srv.Close()

	var refreshes atomic.Int32
	refresh := func(ctx context.Context, original string) (string, error) {
		refreshes.Add(1)
		return srv.URL + "/doc.pdf?sig=fresh", nil
	}
	c := New(testConfig(), WithRefresh(refresh))
	original := srv.URL + "/doc.pdf?sig=expired"

	resp, err := c.Get(context.Background(), original, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !strings.HasSuffix(resp.URL, "sig=fresh") {
		t.Errorf("URL = %q, want refreshed", resp.URL)
	}

	// Subsequent requests for the original URL reuse the refreshed one.
	if _, err := c.Get(context.Background(), original, nil); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestRefresh_CacheIsBounded(t *testing.T) {
	t.Parallel()

	refresh := func(ctx context.Context, original string) (string, error) {
		return original + "&sig=fresh", nil
	}
	c := New(testConfig(), WithRefresh(refresh))
	urlFor := func(i int) string { return fmt.Sprintf("https://docs.example.com/%d.pdf?sig=old", i) }

	const total = MaxRefreshedURLs + 25
	for i := range total {
		if _, err := c.Refresh(context.Background(), urlFor(i)); err != nil {
			t.Fatalf("Refresh(%d) error = %v", i, err)
		}
	}

	if got := c.refreshed.Len(); got != MaxRefreshedURLs {
		t.Errorf("cache len = %d, want %d", got, MaxRefreshedURLs)
	}
	if got := c.currentURL(urlFor(0)); got != urlFor(0) {
		t.Errorf("currentURL(oldest) = %q, want it evicted", got)
	}
	last := urlFor(total - 1)
	if got := c.currentURL(last); got != last+"&sig=fresh" {
		t.Errorf("currentURL(newest) = %q, want the refreshed url", got)
	}
}

func TestGet_RefreshAtMostOncePerRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var refreshes atomic.Int32
	refresh := func(ctx context.Context, original string) (string, error) {
		refreshes.Add(1)
		return original + "?sig=n", nil
	}
	_, err := New(testConfig(), WithRefresh(refresh)).Get(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Get() error = %v, want 401", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestGet_RefreshFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresh := func(ctx context.Context, original string) (string, error) {
		return "", errors.New("storage unavailable")
	}
	_, err := New(testConfig(), WithRefresh(refresh)).Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("error = %v, want ErrRefreshFailed", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || !se.Auth() {
		t.Errorf("error = %v, want wrapped auth StatusError", err)
	}
}

func TestRefresh_NoCallback(t *testing.T) {
	t.Parallel()

	c := New(testConfig())
	if c.CanRefresh() {
		t.Error("CanRefresh() = true without callback")
	}
	if _, err := c.Refresh(context.Background(), "https://example.com/a.pdf"); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Refresh() error = %v, want ErrRefreshFailed", err)
	}
}

func TestGet_BodyTooLarge(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	_, err := New(testConfig(), WithMaxBodyBytes(10)).Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("error = %v, want ErrBodyTooLarge", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestGet_ContextCancelStopsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Network.FetchRetries = 50
	cfg.Retry.BaseDelayMs = 50
	cfg.Retry.MaxDelayMs = 50
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(cfg).Get(ctx, srv.URL, nil)
	if err == nil {
		t.Fatal("Get() error = nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Get() took %v after cancellation", elapsed)
	}
}

func TestHeadAndRange(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("a", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "doc.pdf", time.Time{}, strings.NewReader(content))
	}))
	defer srv.Close()

	c := New(testConfig())
	head, err := c.Head(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Length != 1000 {
		t.Errorf("Head Length = %d, want 1000", head.Length)
	}

	part, err := c.GetRange(context.Background(), srv.URL, 0, 99)
	if err != nil {
		t.Fatalf("GetRange() error = %v", err)
	}
	if part.StatusCode != http.StatusPartialContent {
		t.Errorf("StatusCode = %d, want 206", part.StatusCode)
	}
	if len(part.Body) != 100 {
		t.Errorf("len(Body) = %d, want 100", len(part.Body))
	}
	if got := part.TotalSize(); got != 1000 {
		t.Errorf("TotalSize() = %d, want 1000", got)
	}
}

func TestPostJSON(t *testing.T) {
	t.Parallel()

	type req struct {
		URL string `json:"url"`
	}
	type resp struct {
		Pages []string `json:"pages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request = %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var in req
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(resp{Pages: []string{in.URL + "#1"}})
	}))
	defer srv.Close()

	var out resp
	if err := New(testConfig()).PostJSON(context.Background(), srv.URL, req{URL: "doc"}, &out); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if len(out.Pages) != 1 || out.Pages[0] != "doc#1" {
		t.Errorf("Pages = %v", out.Pages)
	}
}

func TestTotalSize_Missing(t *testing.T) {
	t.Parallel()

	r := &Response{Header: http.Header{}}
	if got := r.TotalSize(); got != -1 {
		t.Errorf("TotalSize() = %d, want -1", got)
	}
}
