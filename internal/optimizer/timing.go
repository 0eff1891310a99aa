package optimizer

import (
	"fmt"
	"sync"
	"time"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/doctype"
)

// NetworkCondition is a coarse network quality class.
type NetworkCondition string

const (
	NetworkFast     NetworkCondition = "fast"
	NetworkSlow     NetworkCondition = "slow"
	NetworkUnstable NetworkCondition = "unstable"
)

// Network classification thresholds.
const (
	unstableFailureRate = 0.2
	slowThroughput      = 256 << 10 // bytes per second
)

// ClassifyNetwork derives a condition from observed throughput in bytes per
// second and the share of failed requests.
func ClassifyNetwork(throughput float64, failureRate float64) NetworkCondition {
	switch {
	case failureRate > unstableFailureRate:
		return NetworkUnstable
	case throughput > 0 && throughput < slowThroughput:
		return NetworkSlow
	default:
		return NetworkFast
	}
}

// RetryPolicy is a tuned retry schedule.
type RetryPolicy struct {
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxDelay    time.Duration `json:"maxDelay"`
	Multiplier  float64       `json:"multiplier"`
	MaxAttempts int           `json:"maxAttempts"`
}

// Delay returns the wait before attempt n (1-based), capped at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return min(time.Duration(d), p.MaxDelay)
}

// Tuning bounds.
const (
	MaxRetryCacheEntries = 50
	MinProgressInterval  = 100 * time.Millisecond
	MaxProgressInterval  = 2000 * time.Millisecond
)

// retryCache is a FIFO-bounded map of tuned policies.
type retryCache struct {
	mu      sync.Mutex
	entries map[string]RetryPolicy
	order   []string
}

func (c *retryCache) get(key string) (RetryPolicy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[key]
	return p, ok
}

func (c *retryCache) put(key string, p RetryPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]RetryPolicy)
	}
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = p
	for len(c.order) > MaxRetryCacheEntries {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *retryCache) reset() {
	c.mu.Lock()
	c.entries = nil
	c.order = nil
	c.mu.Unlock()
}

func (c *retryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// tuneRetry scales base by document size and network condition.
func tuneRetry(base config.RetryConfig, size int64, cond NetworkCondition) RetryPolicy {
	factor := 1.0
	attempts := base.MaxAttempts
	switch {
	case size > doctype.LargeThreshold:
		factor *= 1.5
	case size > 0 && size < doctype.SmallThreshold:
		factor *= 0.75
	}
	switch cond {
	case NetworkSlow:
		factor *= 2
	case NetworkUnstable:
		factor *= 1.5
		attempts++
	case NetworkFast:
		factor *= 0.75
	}
	return RetryPolicy{
		BaseDelay:   time.Duration(float64(base.BaseDelay()) * factor),
		MaxDelay:    time.Duration(float64(base.MaxDelay()) * factor),
		Multiplier:  base.Multiplier,
		MaxAttempts: attempts,
	}
}

// RetryTiming returns the retry policy for a document of size bytes under
// cond. Results are cached per (size, condition).
func (o *Optimizer) RetryTiming(size int64, cond NetworkCondition) RetryPolicy {
	key := fmt.Sprintf("%d:%s", size, cond)
	if p, ok := o.retries.get(key); ok {
		return p
	}
	p := tuneRetry(o.cfg.Snapshot().Retry, size, cond)
	o.retries.put(key, p)
	return p
}

// ProgressInterval returns the progress update interval for complexity,
// clamped to [100ms, 2000ms].
func (o *Optimizer) ProgressInterval(complexity doctype.Complexity) time.Duration {
	return ProgressInterval(o.cfg.Snapshot().Progress.UpdateInterval(), complexity)
}

// ProgressInterval scales base by complexity: simple documents update more
// often, complex ones less.
func ProgressInterval(base time.Duration, complexity doctype.Complexity) time.Duration {
	d := base
	switch complexity {
	case doctype.ComplexityLow:
		d = base / 2
	case doctype.ComplexityHigh:
		d = base * 2
	}
	return min(max(d, MinProgressInterval), MaxProgressInterval)
}
