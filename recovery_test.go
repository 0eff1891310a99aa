package pdfrender

// Notes:
// - DetectAndRecover: every call is logged with the full field set, whatever
//   the input, and never mutates the failed context
// - Strategies are checked one error type at a time with a fresh engine
// - URL refresh uses mockRefresher instead of a real signing service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/netx"
	"github.com/alnah/go-pdfrender/internal/optimizer"
)

type mockRefresher struct {
	url   string
	err   error
	calls int
}

func (m *mockRefresher) CanRefresh() bool { return true }

func (m *mockRefresher) Refresh(ctx context.Context, original string) (string, error) {
	m.calls++
	return m.url, m.err
}

func newTestRecovery(cfg *config.Manager, refresher urlRefresher, logger *slog.Logger) (*Recovery, *canvas.Manager, *optimizer.CanvasPool) {
	canvases := canvas.NewManager(cfg, nil, canvas.WithHeapProbe(nil))
	opt := optimizer.New(cfg, canvases, nil)
	return NewRecovery(cfg, NewClassifier(cfg), canvases, opt.Pool(), refresher, logger), canvases, opt.Pool()
}

func testContext(method Method) *RenderContext {
	rc := newRenderContext("https://docs.example.com/a.pdf?token=secret", RenderOptions{}, time.Now())
	rc.CurrentMethod = method
	rc.AttemptCount = 1
	rc.MethodAttempts[method] = 1
	rc.Progress.Stage = StageRendering
	return rc
}

// ---------------------------------------------------------------------------
// TestDetectAndRecover_Logging - Complete Log Records
// ---------------------------------------------------------------------------

func TestDetectAndRecover_Logging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input any
	}{
		{"string", "Failed to fetch"},
		{"error", errors.New("boom")},
		{"nil", nil},
		{"struct", struct{ Code int }{7}},
		{"stack tracer", &stackErr{msg: "broken", stack: "frame"}},
	}
	wantKeys := []string{
		"renderingId", "type", "stage", "method", "message", "timestamp",
		"context", "recoverable", "attemptCount", "url", "timeElapsed",
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			rec, _, _ := newTestRecovery(testConfig(nil), nil, logger)
			rc := testContext(MethodPDFJSCanvas)

			rec.DetectAndRecover(context.Background(), rc, tt.input)

			entries := rec.Log().Entries()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			e := entries[0]
			if e.RenderingID != rc.RenderingID || e.AttemptCount != 1 {
				t.Errorf("entry = %s/%d, want %s/1", e.RenderingID, e.AttemptCount, rc.RenderingID)
			}
			if e.Message == "" || e.Timestamp.IsZero() || e.Context == nil || e.URL == "" {
				t.Errorf("incomplete entry: %+v", e)
			}
			if e.URL != "https://docs.example.com/a.pdf" {
				t.Errorf("URL = %q, want the query redacted", e.URL)
			}
			if len(rc.ErrorHistory()) != 1 {
				t.Errorf("ErrorHistory = %d entries, want 1", len(rc.ErrorHistory()))
			}

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
			}
			for _, k := range wantKeys {
				if _, ok := line[k]; !ok {
					t.Errorf("log line missing %q", k)
				}
			}
		})
	}
}

func TestDetectAndRecover_KeepsOriginalStack(t *testing.T) {
	t.Parallel()

	rec, _, _ := newTestRecovery(testConfig(nil), nil, nil)
	res := rec.DetectAndRecover(context.Background(), testContext(MethodPDFJSCanvas), &stackErr{msg: "broken", stack: "orig"})
	if res.Error.StackTrace != "orig" {
		t.Errorf("StackTrace = %q, want orig", res.Error.StackTrace)
	}
	if got := rec.Log().Entries()[0].StackTrace; got != "orig" {
		t.Errorf("logged StackTrace = %q, want orig", got)
	}
}

func TestDetectAndRecover_NilContext(t *testing.T) {
	t.Parallel()

	rec, _, _ := newTestRecovery(testConfig(nil), nil, nil)
	res := rec.DetectAndRecover(context.Background(), nil, "Failed to fetch")

	if res.Success || res.Strategy != StrategyFatal {
		t.Errorf("result = %v/%s, want fatal failure", res.Success, res.Strategy)
	}
	if res.Error == nil {
		t.Fatal("Error = nil")
	}
	if rec.Log().Len() != 1 {
		t.Errorf("log entries = %d, want 1", rec.Log().Len())
	}
}

// ---------------------------------------------------------------------------
// TestDetectAndRecover_Strategies - Strategy Selection
// ---------------------------------------------------------------------------

func TestDetectAndRecover_Strategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		input        error
		method       Method
		wantStrategy Strategy
		wantSuccess  bool
	}{
		{"network", &netx.StatusError{StatusCode: 502}, MethodPDFJSCanvas, StrategyNetworkRetry, true},
		{"timeout", context.DeadlineExceeded, MethodPDFJSCanvas, StrategyTimeoutExtension, true},
		{"canvas", canvas.ErrContextUnavailable, MethodPDFJSCanvas, StrategyCanvasRecreation, true},
		{"memory", ErrMemoryPressure, MethodPDFJSCanvas, StrategyMemoryCleanup, true},
		{"unknown", errors.New("boom"), MethodPDFJSCanvas, StrategyMethodFallback, true},
		{"unknown at chain end", errors.New("boom"), MethodDownloadFallback, StrategyMethodFallback, false},
		{"corruption", ErrCorruptDocument, MethodPDFJSCanvas, StrategyFatal, false},
		{"parsing", errors.New("malformed xref"), MethodPDFJSCanvas, StrategyFatal, false},
		{"auth without refresher", &netx.StatusError{StatusCode: 401}, MethodPDFJSCanvas, StrategyFatal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec, _, _ := newTestRecovery(testConfig(nil), nil, nil)
			rc := testContext(tt.method)

			res := rec.DetectAndRecover(context.Background(), rc, tt.input)

			if res.Strategy != tt.wantStrategy {
				t.Errorf("Strategy = %s, want %s", res.Strategy, tt.wantStrategy)
			}
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}
			if res.Error == nil {
				t.Error("Error = nil")
			}
			if res.Success {
				next := res.NewContext
				if next == nil || next == rc {
					t.Fatal("NewContext must be a fresh context")
				}
				if next.AttemptID == rc.AttemptID || next.RenderingID != rc.RenderingID {
					t.Error("NewContext must keep the rendering id and get a new attempt id")
				}
				if len(next.ErrorHistory()) != 0 {
					t.Error("NewContext must start with an empty error history")
				}
			}
		})
	}
}

func TestDetectAndRecover_FallbackAdvancesMethod(t *testing.T) {
	t.Parallel()

	rec, _, _ := newTestRecovery(testConfig(nil), nil, nil)
	res := rec.DetectAndRecover(context.Background(), testContext(MethodServerConversion), errors.New("boom"))
	if !res.Success || res.NewContext.CurrentMethod != MethodImageBased {
		t.Errorf("fallback = %v/%s, want image-based", res.Success, res.NewContext.CurrentMethod)
	}
}

func TestDetectAndRecover_TimeoutExtension(t *testing.T) {
	t.Parallel()

	cfg := testConfig(func(c *config.Config) {
		c.Rendering.MaxTimeoutMs = 40_000
		c.Rendering.TimeoutMultiplier = 1.5
	})
	tests := []struct {
		current time.Duration
		want    time.Duration
	}{
		{10 * time.Second, 15 * time.Second},
		{30 * time.Second, 40 * time.Second},
		{40 * time.Second, 40 * time.Second},
	}
	for _, tt := range tests {
		rec, _, _ := newTestRecovery(cfg, nil, nil)
		rc := testContext(MethodPDFJSCanvas)
		rc.Timeout = tt.current

		res := rec.DetectAndRecover(context.Background(), rc, context.DeadlineExceeded)

		if !res.Success {
			t.Fatalf("Success = false for %v", tt.current)
		}
		if res.NewContext.Timeout != tt.want {
			t.Errorf("Timeout after %v = %v, want %v", tt.current, res.NewContext.Timeout, tt.want)
		}
		if rc.Timeout != tt.current {
			t.Errorf("failed context mutated: Timeout = %v", rc.Timeout)
		}
	}
}

func TestDetectAndRecover_AttemptCeiling(t *testing.T) {
	t.Parallel()

	rec, _, _ := newTestRecovery(testConfig(nil), nil, nil)
	rc := testContext(MethodPDFJSCanvas)
	rc.MethodAttempts[MethodPDFJSCanvas] = config.DefaultMaxAttempts

	res := rec.DetectAndRecover(context.Background(), rc, &netx.StatusError{StatusCode: 503})

	if res.Success {
		t.Fatal("Success = true at the attempt ceiling")
	}
	if res.Strategy != StrategyNetworkRetry {
		t.Errorf("Strategy = %s, want %s", res.Strategy, StrategyNetworkRetry)
	}
	if got := res.Error.Context["reason"]; got != ErrAttemptsExceeded.Error() {
		t.Errorf("reason = %v, want %q", got, ErrAttemptsExceeded)
	}
}

func TestDetectAndRecover_URLRefresh(t *testing.T) {
	t.Parallel()

	t.Run("refreshed", func(t *testing.T) {
		t.Parallel()

		refresher := &mockRefresher{url: "https://docs.example.com/a.pdf?token=fresh"}
		rec, _, _ := newTestRecovery(testConfig(nil), refresher, nil)
		rc := testContext(MethodPDFJSCanvas)
		rc.Document = []byte("%PDF-1.4")

		res := rec.DetectAndRecover(context.Background(), rc, &netx.StatusError{StatusCode: 403})

		if !res.Success || res.Strategy != StrategyURLRefresh {
			t.Fatalf("result = %v/%s, want successful url refresh", res.Success, res.Strategy)
		}
		if res.NewContext.URL != refresher.url {
			t.Errorf("URL = %q, want %q", res.NewContext.URL, refresher.url)
		}
		if res.NewContext.Document != nil {
			t.Error("Document carried over a refreshed URL")
		}
		if rc.URL == refresher.url {
			t.Error("failed context mutated")
		}
	})

	t.Run("refresh fails", func(t *testing.T) {
		t.Parallel()

		refresher := &mockRefresher{err: fmt.Errorf("%w: signer down", netx.ErrRefreshFailed)}
		rec, _, _ := newTestRecovery(testConfig(nil), refresher, nil)

		res := rec.DetectAndRecover(context.Background(), testContext(MethodPDFJSCanvas), &netx.StatusError{StatusCode: 401})

		if res.Success {
			t.Fatal("Success = true after a failed refresh")
		}
		if res.Error.Type != ErrorAuthentication {
			t.Errorf("Error.Type = %s, want authentication", res.Error.Type)
		}
	})
}

func TestDetectAndRecover_CanvasRecreation(t *testing.T) {
	t.Parallel()

	rec, canvases, _ := newTestRecovery(testConfig(nil), nil, nil)
	old, err := canvases.CreateCanvas(100, 50)
	if err != nil {
		t.Fatalf("CreateCanvas() error = %v", err)
	}
	rc := testContext(MethodPDFJSCanvas)
	canvases.MarkInUse(old, rc.RenderingID)
	rc.setCanvas(old)

	res := rec.DetectAndRecover(context.Background(), rc, canvas.ErrContextUnavailable)

	if !res.Success || res.Strategy != StrategyCanvasRecreation {
		t.Fatalf("result = %v/%s, want canvas recreation", res.Success, res.Strategy)
	}
	if old.Width() != 0 {
		t.Error("old canvas was not destroyed")
	}
	if res.NewContext.Canvas() != nil {
		t.Error("NewContext kept a canvas")
	}
	if got := canvases.MemoryStats().InUse; got != 0 {
		t.Errorf("canvases in use = %d, want 0", got)
	}
}

func TestDetectAndRecover_MemoryCleanup(t *testing.T) {
	t.Parallel()

	rec, canvases, _ := newTestRecovery(testConfig(nil), nil, nil)
	for range 3 {
		if _, err := canvases.CreateCanvas(10, 10); err != nil {
			t.Fatalf("CreateCanvas() error = %v", err)
		}
	}

	res := rec.DetectAndRecover(context.Background(), testContext(MethodPDFJSCanvas), ErrMemoryPressure)

	if !res.Success || res.Strategy != StrategyMemoryCleanup {
		t.Fatalf("result = %v/%s, want memory cleanup", res.Success, res.Strategy)
	}
	if got := canvases.MemoryStats().TotalCanvases; got >= 3 {
		t.Errorf("TotalCanvases = %d, want idle canvases removed", got)
	}
}

// ---------------------------------------------------------------------------
// TestErrorLog - Bounded Log
// ---------------------------------------------------------------------------

func TestErrorLog_Bounded(t *testing.T) {
	t.Parallel()

	l := NewErrorLog(MaxErrorLogEntries)
	for i := range MaxErrorLogEntries + 5 {
		l.add(LogEntry{Message: fmt.Sprint(i)})
	}
	entries := l.Entries()
	if len(entries) != MaxErrorLogEntries {
		t.Fatalf("len = %d, want %d", len(entries), MaxErrorLogEntries)
	}
	if entries[0].Message != "5" {
		t.Errorf("oldest = %q, want 5", entries[0].Message)
	}
}
