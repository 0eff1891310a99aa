// Package monitor aggregates diagnostics across rendering operations into
// rolling metrics, alerts, a coarse health status and user feedback requests.
package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/diagnostics"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/types"
)

// Sentinel errors for feedback handling.
var (
	ErrFeedbackNotFound = errors.New("feedback request not found")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
)

// Bounds on retained history.
const (
	maxPendingFeedback   = 100
	maxSubmittedFeedback = 100
	maxRecentFailures    = 20
)

// Health is the coarse status of the rendering system.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// unhealthySuccessRate is the success rate below which the system is
// unhealthy regardless of alerts.
const unhealthySuccessRate = 0.5

// Metrics summarizes the rolling window of completed operations.
type Metrics struct {
	TotalOperations  int            `json:"totalOperations"`
	WindowOperations int            `json:"windowOperations"`
	Successes        int            `json:"successes"`
	Failures         int            `json:"failures"`
	SuccessRate      float64        `json:"successRate"`
	ErrorRate        float64        `json:"errorRate"`
	AvgRenderTime    time.Duration  `json:"avgRenderTime"`
	AvgMemory        int64          `json:"avgMemory"`
	ActiveOperations int            `json:"activeOperations"`
	ByMethod         map[string]int `json:"byMethod"`
	ByErrorType      map[string]int `json:"byErrorType"`
}

// Feedback is a request for user feedback about a failed operation.
type Feedback struct {
	ID          string          `json:"id"`
	RenderingID string          `json:"renderingId"`
	ErrorType   types.ErrorType `json:"errorType"`
	Message     string          `json:"message"`
	Created     time.Time       `json:"created"`
	Rating      int             `json:"rating,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	Submitted   time.Time       `json:"submitted,omitzero"`
}

// sample is one completed operation in the rolling window.
type sample struct {
	success  bool
	hadError bool
	duration time.Duration
	memory   int64
	method   types.Method
	errType  types.ErrorType
}

// operation is the monitor's view of an in-flight operation.
type operation struct {
	start   time.Time
	url     string
	errors  int
	lastErr *types.RenderError
}

// Option configures a System.
type Option func(*System)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// WithMemoryProbe replaces the memory sampler used when an operation has no
// diagnostics record. A nil probe disables sampling.
func WithMemoryProbe(p diagnostics.MemoryProbe) Option {
	return func(s *System) { s.probe = p }
}

// System is the integrated monitoring system. It wraps a diagnostics
// Collector and is safe for concurrent use.
type System struct {
	cfg    *config.Manager
	diag   *diagnostics.Collector
	logger *slog.Logger
	now    func() time.Time
	probe  diagnostics.MemoryProbe

	reg     *prometheus.Registry
	metrics *promMetrics

	mu        sync.Mutex
	active    map[string]*operation
	window    []sample
	total     int
	lastMem   int64
	alerts    map[AlertKind]*Alert
	acked     map[AlertKind]bool
	failures  []*diagnostics.Data
	pending   []*Feedback
	submitted []*Feedback

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New returns a System recording into diag.
func New(cfg *config.Manager, diag *diagnostics.Collector, logger *slog.Logger, opts ...Option) *System {
	reg := prometheus.NewRegistry()
	s := &System{
		cfg:       cfg,
		diag:      diag,
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
		probe:     diagnostics.RuntimeMemoryProbe,
		reg:       reg,
		metrics:   newPromMetrics(reg),
		active:    make(map[string]*operation),
		alerts:    make(map[AlertKind]*Alert),
		acked:     make(map[AlertKind]bool),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the private Prometheus registry holding the System's metrics.
func (s *System) Registry() *prometheus.Registry {
	return s.reg
}

// Diagnostics returns the wrapped collector.
func (s *System) Diagnostics() *diagnostics.Collector {
	return s.diag
}

// StartOperation begins tracking id, with a diagnostics record when the
// collector is enabled.
func (s *System) StartOperation(id, url, parentID string) {
	s.diag.Start(id, url, parentID)
	s.start(id, url)
}

// StartOperationWithoutDiagnostics begins tracking id for metrics and
// alerts only. No diagnostics record is allocated for it.
func (s *System) StartOperationWithoutDiagnostics(id, url string) {
	s.start(id, url)
}

func (s *System) start(id, url string) {
	s.mu.Lock()
	if _, exists := s.active[id]; !exists {
		s.metrics.ActiveOperations.Inc()
	}
	s.active[id] = &operation{start: s.now(), url: url}
	s.mu.Unlock()

	s.emit(Event{Type: EventOperationStarted, RenderingID: id, Time: s.now()})
}

// UpdateStage records a stage transition.
func (s *System) UpdateStage(id string, stage types.Stage, method types.Method) {
	s.diag.UpdateStage(id, stage, method)
	s.emit(Event{Type: EventStageUpdated, RenderingID: id, Stage: stage, Method: method, Time: s.now()})
}

// RecordError records a classified error for id.
func (s *System) RecordError(id string, err *types.RenderError) {
	if err == nil {
		return
	}
	s.diag.AddError(id, err)
	s.metrics.ErrorsTotal.WithLabelValues(err.Type.String()).Inc()

	s.mu.Lock()
	if op, ok := s.active[id]; ok {
		op.errors++
		op.lastErr = err
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventErrorOccurred, RenderingID: id, Stage: err.Stage, Method: err.Method, Error: err.Clone(), Time: s.now()})
}

// CompleteOperation finalizes id, folds it into the rolling window and
// evaluates alerts. It returns the final diagnostics snapshot, or nil when
// diagnostics are disabled.
func (s *System) CompleteOperation(id string, success bool, method types.Method) *diagnostics.Data {
	data := s.diag.Complete(id, success)
	cfg := s.cfg.Snapshot()
	now := s.now()

	// Without a diagnostics record, memory is sampled directly so the
	// memory alert still sees it.
	var mem int64
	if data == nil && s.probe != nil {
		if v, ok := s.probe(); ok {
			mem = v
		}
	}

	s.mu.Lock()
	op, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return data
	}
	delete(s.active, id)
	s.metrics.ActiveOperations.Dec()

	smp := sample{
		success:  success,
		hadError: op.errors > 0,
		duration: now.Sub(op.start),
		method:   method,
	}
	if data != nil {
		smp.duration = data.TotalTime
		smp.memory = data.Performance.MemoryUsage
		s.lastMem = smp.memory
	} else if mem > 0 {
		smp.memory = mem
		s.lastMem = mem
	}
	if op.lastErr != nil {
		smp.errType = op.lastErr.Type
	}
	s.push(smp, cfg.Monitoring.WindowSize)

	var fb *Feedback
	if !success {
		if data != nil {
			s.failures = appendBounded(s.failures, data, maxRecentFailures)
		}
		if cfg.Monitoring.FeedbackOnFailure {
			fb = s.requestFeedbackLocked(id, op.lastErr, now)
		}
	}
	raised := s.evaluateLocked(cfg.Monitoring, now)
	s.metrics.ActiveAlerts.Set(float64(len(s.alerts)))
	s.mu.Unlock()

	s.metrics.OperationsTotal.WithLabelValues(outcomeLabel(success)).Inc()
	s.metrics.RenderDurationSeconds.WithLabelValues(method.String(), outcomeLabel(success)).Observe(smp.duration.Seconds())
	if smp.memory > 0 {
		s.metrics.MemoryBytes.Set(float64(smp.memory))
	}

	evType := EventOperationCompleted
	if !success {
		evType = EventOperationFailed
	}
	ev := Event{Type: evType, RenderingID: id, Method: method, Time: now, Data: data}
	if op.lastErr != nil {
		ev.Error = op.lastErr.Clone()
	}
	s.emit(ev)
	if fb != nil {
		c := *fb
		s.emit(Event{Type: EventFeedbackRequested, RenderingID: id, Feedback: &c, Time: now})
	}
	for _, a := range raised {
		s.logger.Warn("alert triggered", "kind", a.Kind, "severity", a.Severity, "message", a.Message)
		s.emit(Event{Type: EventAlertTriggered, Alert: a, Time: now})
	}
	return data
}

// Cancel stops tracking id without counting it as completed.
func (s *System) Cancel(id string) {
	s.diag.Discard(id)

	s.mu.Lock()
	_, ok := s.active[id]
	if ok {
		delete(s.active, id)
		s.metrics.ActiveOperations.Dec()
	}
	s.mu.Unlock()
}

func (s *System) push(smp sample, windowSize int) {
	s.total++
	s.window = append(s.window, smp)
	if windowSize > 0 && len(s.window) > windowSize {
		s.window = slices.Delete(s.window, 0, len(s.window)-windowSize)
	}
}

func appendBounded[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if len(list) > limit {
		list = slices.Delete(list, 0, len(list)-limit)
	}
	return list
}

// Metrics returns the current rolling metrics.
func (s *System) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsLocked()
}

func (s *System) metricsLocked() Metrics {
	m := Metrics{
		TotalOperations:  s.total,
		WindowOperations: len(s.window),
		ActiveOperations: len(s.active),
		ByMethod:         make(map[string]int),
		ByErrorType:      make(map[string]int),
	}
	if len(s.window) == 0 {
		return m
	}

	var (
		totalTime time.Duration
		totalMem  int64
		memCount  int64
		errored   int
	)
	for _, smp := range s.window {
		if smp.success {
			m.Successes++
			if smp.method.Valid() {
				m.ByMethod[smp.method.String()]++
			}
		} else {
			m.Failures++
		}
		if smp.hadError {
			errored++
			m.ByErrorType[smp.errType.String()]++
		}
		totalTime += smp.duration
		if smp.memory > 0 {
			totalMem += smp.memory
			memCount++
		}
	}
	n := len(s.window)
	m.SuccessRate = float64(m.Successes) / float64(n)
	m.ErrorRate = float64(errored) / float64(n)
	m.AvgRenderTime = totalTime / time.Duration(n)
	if memCount > 0 {
		m.AvgMemory = totalMem / memCount
	}
	return m
}

// Health derives the coarse status from metrics and active alerts.
func (s *System) Health() Health {
	minOps := s.cfg.Snapshot().Monitoring.MinOperations

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked()

	for _, a := range s.alerts {
		if a.Severity == SeverityCritical {
			return HealthUnhealthy
		}
	}
	if m.WindowOperations >= minOps && m.SuccessRate < unhealthySuccessRate {
		return HealthUnhealthy
	}
	if len(s.alerts) > 0 {
		return HealthDegraded
	}
	return HealthHealthy
}

// RecentFailures returns the diagnostics of the most recent failed operations.
func (s *System) RecentFailures() []*diagnostics.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.failures)
}

func (s *System) requestFeedbackLocked(id string, lastErr *types.RenderError, now time.Time) *Feedback {
	fb := &Feedback{
		ID:          uuid.NewString(),
		RenderingID: id,
		Message:     "rendering failed",
		Created:     now,
	}
	if lastErr != nil {
		fb.ErrorType = lastErr.Type
		fb.Message = lastErr.Message
	}
	s.pending = appendBounded(s.pending, fb, maxPendingFeedback)
	return fb
}

// PendingFeedback returns copies of the open feedback requests.
func (s *System) PendingFeedback() []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Feedback, len(s.pending))
	for i, fb := range s.pending {
		out[i] = *fb
	}
	return out
}

// SubmitFeedback closes a feedback request with a 1-5 rating and comment.
func (s *System) SubmitFeedback(id string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: %d", ErrInvalidRating, rating)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.pending, func(fb *Feedback) bool { return fb.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrFeedbackNotFound, id)
	}
	fb := s.pending[i]
	s.pending = slices.Delete(s.pending, i, i+1)
	fb.Rating = rating
	fb.Comment = comment
	fb.Submitted = s.now()
	s.submitted = appendBounded(s.submitted, fb, maxSubmittedFeedback)
	s.logger.Info("feedback submitted", "renderingId", fb.RenderingID, "rating", rating)
	return nil
}

// SubmittedFeedback returns copies of the closed feedback requests.
func (s *System) SubmittedFeedback() []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Feedback, len(s.submitted))
	for i, fb := range s.submitted {
		out[i] = *fb
	}
	return out
}
