package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/alnah/go-pdfrender/internal/logging"
)

// Bounds applied by Normalize.
const (
	minTimeoutMs        = 100
	minUpdateIntervalMs = 100
	maxUpdateIntervalMs = 2_000
	minCanvasDim        = 1
	maxCanvasDim        = 32_767
	maxAttemptsCeiling  = 10
	maxWindowSize       = 100_000
)

// Normalize replaces invalid values with their defaults or nearest valid
// bound, and returns a human-readable warning for each change.
// A normalized Config is always usable; Normalize never fails.
func (c *Config) Normalize() []string {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	d := DefaultConfig()

	r := &c.Rendering
	switch r.Quality {
	case QualityLow, QualityMedium, QualityHigh:
	default:
		warn("rendering.quality %q is invalid, using %q", r.Quality, d.Rendering.Quality)
		r.Quality = d.Rendering.Quality
	}
	if r.TimeoutMs < minTimeoutMs {
		warn("rendering.timeoutMs %d is below %d, using %d", r.TimeoutMs, minTimeoutMs, d.Rendering.TimeoutMs)
		r.TimeoutMs = d.Rendering.TimeoutMs
	}
	if r.MaxTimeoutMs < r.TimeoutMs {
		warn("rendering.maxTimeoutMs %d is below rendering.timeoutMs, using %d", r.MaxTimeoutMs, r.TimeoutMs)
		r.MaxTimeoutMs = r.TimeoutMs
	}
	if r.TimeoutMultiplier < 1 {
		warn("rendering.timeoutMultiplier %g is below 1, using %g", r.TimeoutMultiplier, d.Rendering.TimeoutMultiplier)
		r.TimeoutMultiplier = d.Rendering.TimeoutMultiplier
	}
	if r.Scale <= 0 || r.Scale > 4 {
		warn("rendering.scale %g is out of range (0, 4], using %g", r.Scale, d.Rendering.Scale)
		r.Scale = d.Rendering.Scale
	}

	rt := &c.Retry
	if rt.MaxAttempts < 1 {
		warn("retry.maxAttempts %d is below 1, using 1", rt.MaxAttempts)
		rt.MaxAttempts = 1
	} else if rt.MaxAttempts > maxAttemptsCeiling {
		warn("retry.maxAttempts %d exceeds %d, using %d", rt.MaxAttempts, maxAttemptsCeiling, maxAttemptsCeiling)
		rt.MaxAttempts = maxAttemptsCeiling
	}
	if rt.BaseDelayMs < 0 {
		warn("retry.baseDelayMs %d is negative, using 0", rt.BaseDelayMs)
		rt.BaseDelayMs = 0
	}
	if rt.MaxDelayMs < rt.BaseDelayMs {
		warn("retry.maxDelayMs %d is below retry.baseDelayMs, using %d", rt.MaxDelayMs, rt.BaseDelayMs)
		rt.MaxDelayMs = rt.BaseDelayMs
	}
	if rt.Multiplier < 1 {
		warn("retry.multiplier %g is below 1, using %g", rt.Multiplier, d.Retry.Multiplier)
		rt.Multiplier = d.Retry.Multiplier
	}

	m := &c.Memory
	if m.PressureThresholdBytes <= 0 {
		warn("memory.pressureThresholdBytes %d must be positive, using %d", m.PressureThresholdBytes, d.Memory.PressureThresholdBytes)
		m.PressureThresholdBytes = d.Memory.PressureThresholdBytes
	}
	if m.MaxCanvases < 1 {
		warn("memory.maxCanvases %d is below 1, using %d", m.MaxCanvases, d.Memory.MaxCanvases)
		m.MaxCanvases = d.Memory.MaxCanvases
	}
	if m.IdleTimeoutMs < 0 {
		warn("memory.idleTimeoutMs %d is negative, using %d", m.IdleTimeoutMs, d.Memory.IdleTimeoutMs)
		m.IdleTimeoutMs = d.Memory.IdleTimeoutMs
	}
	if m.CleanupFraction <= 0 || m.CleanupFraction > 1 {
		warn("memory.cleanupFraction %g is out of range (0, 1], using %g", m.CleanupFraction, d.Memory.CleanupFraction)
		m.CleanupFraction = d.Memory.CleanupFraction
	}
	m.DefaultWidth = clampDim(m.DefaultWidth, "memory.defaultWidth", d.Memory.DefaultWidth, warn)
	m.DefaultHeight = clampDim(m.DefaultHeight, "memory.defaultHeight", d.Memory.DefaultHeight, warn)

	p := &c.Progress
	if p.UpdateIntervalMs < minUpdateIntervalMs {
		warn("progress.updateIntervalMs %d is below %d, using %d", p.UpdateIntervalMs, minUpdateIntervalMs, minUpdateIntervalMs)
		p.UpdateIntervalMs = minUpdateIntervalMs
	} else if p.UpdateIntervalMs > maxUpdateIntervalMs {
		warn("progress.updateIntervalMs %d exceeds %d, using %d", p.UpdateIntervalMs, maxUpdateIntervalMs, maxUpdateIntervalMs)
		p.UpdateIntervalMs = maxUpdateIntervalMs
	}
	if p.StuckThresholdMs <= p.UpdateIntervalMs {
		warn("progress.stuckThresholdMs %d must exceed progress.updateIntervalMs, using %d", p.StuckThresholdMs, d.Progress.StuckThresholdMs)
		p.StuckThresholdMs = max(d.Progress.StuckThresholdMs, p.UpdateIntervalMs*2)
	}
	if p.RetentionMs < 0 {
		warn("progress.retentionMs %d is negative, using %d", p.RetentionMs, d.Progress.RetentionMs)
		p.RetentionMs = d.Progress.RetentionMs
	}

	dg := &c.Diagnostics
	dg.Level = strings.ToLower(strings.TrimSpace(dg.Level))
	if _, _, err := logging.ParseLevel(dg.Level); err != nil {
		warn("diagnostics.level %q is invalid, using %q", dg.Level, d.Diagnostics.Level)
		dg.Level = d.Diagnostics.Level
	}
	if !slices.Contains(logging.Formats, dg.Format) {
		warn("diagnostics.format %q is invalid, using %q", dg.Format, d.Diagnostics.Format)
		dg.Format = d.Diagnostics.Format
	}

	mo := &c.Monitoring
	if mo.WindowSize < 1 || mo.WindowSize > maxWindowSize {
		warn("monitoring.windowSize %d is out of range [1, %d], using %d", mo.WindowSize, maxWindowSize, d.Monitoring.WindowSize)
		mo.WindowSize = d.Monitoring.WindowSize
	}
	if mo.MinOperations < 0 {
		warn("monitoring.minOperations %d is negative, using 0", mo.MinOperations)
		mo.MinOperations = 0
	}
	mo.ErrorRateThreshold = clampRate(mo.ErrorRateThreshold, "monitoring.errorRateThreshold", d.Monitoring.ErrorRateThreshold, warn)
	mo.SuccessRateFloor = clampRate(mo.SuccessRateFloor, "monitoring.successRateFloor", d.Monitoring.SuccessRateFloor, warn)
	if mo.AvgRenderTimeCeilingMs <= 0 {
		warn("monitoring.avgRenderTimeCeilingMs %d must be positive, using %d", mo.AvgRenderTimeCeilingMs, d.Monitoring.AvgRenderTimeCeilingMs)
		mo.AvgRenderTimeCeilingMs = d.Monitoring.AvgRenderTimeCeilingMs
	}
	if mo.MemoryCeilingBytes <= 0 {
		warn("monitoring.memoryCeilingBytes %d must be positive, using %d", mo.MemoryCeilingBytes, d.Monitoring.MemoryCeilingBytes)
		mo.MemoryCeilingBytes = d.Monitoring.MemoryCeilingBytes
	}

	n := &c.Network
	if n.FetchRetries < 0 {
		warn("network.fetchRetries %d is negative, using 0", n.FetchRetries)
		n.FetchRetries = 0
	}
	if n.RequestsPerSecond <= 0 {
		warn("network.requestsPerSecond %g must be positive, using %g", n.RequestsPerSecond, float64(d.Network.RequestsPerSecond))
		n.RequestsPerSecond = d.Network.RequestsPerSecond
	}
	if n.Burst < 1 {
		warn("network.burst %d is below 1, using %d", n.Burst, d.Network.Burst)
		n.Burst = d.Network.Burst
	}

	return warnings
}

func clampDim(v int, name string, def int, warn func(string, ...any)) int {
	if v < minCanvasDim || v > maxCanvasDim {
		warn("%s %d is out of range [%d, %d], using %d", name, v, minCanvasDim, maxCanvasDim, def)
		return def
	}
	return v
}

func clampRate(v float64, name string, def float64, warn func(string, ...any)) float64 {
	if v < 0 || v > 1 {
		warn("%s %g is out of range [0, 1], using %g", name, v, def)
		return def
	}
	return v
}
