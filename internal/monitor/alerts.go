package monitor

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alnah/go-pdfrender/internal/config"
)

// AlertKind identifies the threshold an alert watches.
type AlertKind string

const (
	AlertErrorRate   AlertKind = "error-rate"
	AlertSuccessRate AlertKind = "success-rate"
	AlertRenderTime  AlertKind = "render-time"
	AlertMemory      AlertKind = "memory"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is raised when a monitored value crosses its threshold.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Triggered time.Time `json:"triggered"`
}

// check is one threshold evaluation.
type check struct {
	kind      AlertKind
	breached  bool
	critical  bool
	value     float64
	threshold float64
	message   string
}

// evaluateLocked compares the window against cfg. One alert per kind stays
// active while its condition holds; an acknowledged kind stays silent until
// the condition clears. It returns copies of newly raised alerts.
func (s *System) evaluateLocked(cfg config.MonitoringConfig, now time.Time) []*Alert {
	m := s.metricsLocked()
	enough := m.WindowOperations >= cfg.MinOperations
	ceiling := cfg.AvgRenderTimeCeiling()

	checks := []check{
		{
			kind:      AlertErrorRate,
			breached:  enough && m.ErrorRate > cfg.ErrorRateThreshold,
			critical:  m.ErrorRate > 2*cfg.ErrorRateThreshold,
			value:     m.ErrorRate,
			threshold: cfg.ErrorRateThreshold,
			message:   fmt.Sprintf("error rate %.0f%% exceeds %.0f%%", m.ErrorRate*100, cfg.ErrorRateThreshold*100),
		},
		{
			kind:      AlertSuccessRate,
			breached:  enough && m.SuccessRate < cfg.SuccessRateFloor,
			critical:  m.SuccessRate < cfg.SuccessRateFloor/2,
			value:     m.SuccessRate,
			threshold: cfg.SuccessRateFloor,
			message:   fmt.Sprintf("success rate %.0f%% below %.0f%%", m.SuccessRate*100, cfg.SuccessRateFloor*100),
		},
		{
			kind:      AlertRenderTime,
			breached:  enough && ceiling > 0 && m.AvgRenderTime > ceiling,
			value:     m.AvgRenderTime.Seconds(),
			threshold: ceiling.Seconds(),
			message:   fmt.Sprintf("average render time %s exceeds %s", m.AvgRenderTime.Round(time.Millisecond), ceiling),
		},
		{
			kind:      AlertMemory,
			breached:  cfg.MemoryCeilingBytes > 0 && s.lastMem > cfg.MemoryCeilingBytes,
			value:     float64(s.lastMem),
			threshold: float64(cfg.MemoryCeilingBytes),
			message:   fmt.Sprintf("memory %dMB exceeds %dMB", s.lastMem>>20, cfg.MemoryCeilingBytes>>20),
		},
	}

	var raised []*Alert
	for _, c := range checks {
		if !c.breached {
			delete(s.alerts, c.kind)
			delete(s.acked, c.kind)
			continue
		}
		if s.acked[c.kind] {
			continue
		}
		severity := SeverityWarning
		if c.critical {
			severity = SeverityCritical
		}
		if a, ok := s.alerts[c.kind]; ok {
			a.Value = c.value
			a.Severity = severity
			a.Message = c.message
			continue
		}
		a := &Alert{
			ID:        uuid.NewString(),
			Kind:      c.kind,
			Severity:  severity,
			Message:   c.message,
			Value:     c.value,
			Threshold: c.threshold,
			Triggered: now,
		}
		s.alerts[c.kind] = a
		cp := *a
		raised = append(raised, &cp)
	}
	return raised
}

// ActiveAlerts returns copies of the unacknowledged alerts, oldest first.
func (s *System) ActiveAlerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAlertsLocked()
}

func (s *System) activeAlertsLocked() []Alert {
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b Alert) int {
		return cmp.Or(a.Triggered.Compare(b.Triggered), cmp.Compare(a.Kind, b.Kind))
	})
	return out
}

// AcknowledgeAlert removes the alert with id from the active set.
// It reports whether such an alert existed.
func (s *System) AcknowledgeAlert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, a := range s.alerts {
		if a.ID == id {
			delete(s.alerts, kind)
			s.acked[kind] = true
			s.metrics.ActiveAlerts.Set(float64(len(s.alerts)))
			return true
		}
	}
	return false
}
