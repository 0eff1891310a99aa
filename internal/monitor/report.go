package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alnah/go-pdfrender/internal/diagnostics"
	"github.com/alnah/go-pdfrender/internal/pipeline"
)

// ErrUnknownFormat is returned by ExportReport for unsupported formats.
var ErrUnknownFormat = errors.New("unknown report format")

// Report formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatHTML = "html"
)

// Formats lists the accepted report formats.
var Formats = []string{FormatJSON, FormatText, FormatHTML}

// Report is the exported monitoring state.
type Report struct {
	GeneratedAt     time.Time           `json:"generatedAt"`
	Health          Health              `json:"health"`
	Metrics         Metrics             `json:"metrics"`
	Alerts          []Alert             `json:"alerts"`
	PendingFeedback int                 `json:"pendingFeedback"`
	RecentFailures  []*diagnostics.Data `json:"recentFailures"`
}

// Snapshot returns the current monitoring state.
func (s *System) Snapshot() Report {
	health := s.Health()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report{
		GeneratedAt:     s.now(),
		Health:          health,
		Metrics:         s.metricsLocked(),
		Alerts:          s.activeAlertsLocked(),
		PendingFeedback: len(s.pending),
		RecentFailures:  append([]*diagnostics.Data(nil), s.failures...),
	}
}

// ExportReport renders the monitoring state as json, text (Markdown) or html.
func (s *System) ExportReport(ctx context.Context, format string) ([]byte, error) {
	r := s.Snapshot()
	switch format {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatText:
		return []byte(s.markdown(r)), nil
	case FormatHTML:
		css, err := s.diag.Stylesheet()
		if err != nil {
			return nil, err
		}
		out, err := pipeline.Render(ctx, "Rendering health", s.markdown(r), css)
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, format, strings.Join(Formats, ", "))
	}
}

func (s *System) markdown(r Report) string {
	var b strings.Builder
	health := string(r.Health)
	if r.Health == HealthUnhealthy {
		health = "==" + health + "=="
	}

	b.WriteString("# Rendering health\n\n")
	fmt.Fprintf(&b, "- Status: %s\n", health)
	fmt.Fprintf(&b, "- Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))

	m := r.Metrics
	b.WriteString("## Metrics\n\n| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Operations (total) | %d |\n", m.TotalOperations)
	fmt.Fprintf(&b, "| Operations (window) | %d |\n", m.WindowOperations)
	fmt.Fprintf(&b, "| Active | %d |\n", m.ActiveOperations)
	fmt.Fprintf(&b, "| Success rate | %.1f%% |\n", m.SuccessRate*100)
	fmt.Fprintf(&b, "| Error rate | %.1f%% |\n", m.ErrorRate*100)
	fmt.Fprintf(&b, "| Average render time | %s |\n", m.AvgRenderTime.Round(time.Millisecond))
	fmt.Fprintf(&b, "| Average memory | %.1f MB |\n", float64(m.AvgMemory)/(1<<20))
	fmt.Fprintf(&b, "| Pending feedback | %d |\n\n", r.PendingFeedback)

	if len(r.Alerts) > 0 {
		b.WriteString("## Alerts\n\n")
		for _, a := range r.Alerts {
			line := fmt.Sprintf("%s (%s): %s", a.Kind, a.Severity, a.Message)
			if a.Severity == SeverityCritical {
				line = "==" + line + "=="
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	if len(r.RecentFailures) > 0 {
		b.WriteString("## Recent failures\n\n")
		for _, d := range r.RecentFailures {
			diagnostics.WriteReport(&b, d, s.diag.IdentifyBottlenecks(d))
		}
	}
	return b.String()
}
