package optimizer

import (
	"fmt"
	"sync"
	"time"

	"github.com/alnah/go-pdfrender/internal/doctype"
	"github.com/alnah/go-pdfrender/internal/types"
)

// Learned selection parameters.
const (
	ConfidenceThreshold = 0.7
	MinUsesForTrust     = 3
	ConfidenceDecay     = 7 * 24 * time.Hour
	MaxLearnedEntries   = 200
	lowMemoryBytes      = 512 << 20
)

// Confidence returns successRate discounted linearly over one week of
// disuse. Entries with fewer than MinUsesForTrust uses get zero.
func Confidence(successRate float64, useCount int, age time.Duration) float64 {
	if useCount < MinUsesForTrust || successRate <= 0 {
		return 0
	}
	if age < 0 {
		age = 0
	}
	decay := 1 - float64(age)/float64(ConfidenceDecay)
	if decay <= 0 {
		return 0
	}
	return min(successRate, 1) * decay
}

// Trusted reports whether a learned entry may override rule-based selection.
func Trusted(successRate float64, useCount int, age time.Duration) bool {
	return Confidence(successRate, useCount, age) > ConfidenceThreshold
}

// Device classes.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
)

// Environment describes the client side of a selection.
type Environment struct {
	Network         NetworkCondition `json:"network"`
	Device          string           `json:"device"`
	AvailableMemory int64            `json:"availableMemory"` // bytes, 0 when unknown
}

// Selection is the outcome of SelectMethod.
type Selection struct {
	Method     types.Method `json:"method"`
	Learned    bool         `json:"learned"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

// learnedEntry is the cached best method for one characteristics key.
type learnedEntry struct {
	method    types.Method
	successes int
	uses      int
	totalTime time.Duration
	lastUsed  time.Time
}

func (e *learnedEntry) successRate() float64 {
	if e.uses == 0 {
		return 0
	}
	return float64(e.successes) / float64(e.uses)
}

func (e *learnedEntry) avgTime() time.Duration {
	if e.successes == 0 {
		return 0
	}
	return e.totalTime / time.Duration(e.successes)
}

// learnedCache maps characteristics keys to their best known method. It is
// bounded and evicts the least recently used entry.
type learnedCache struct {
	mu      sync.Mutex
	entries map[string]*learnedEntry
}

func sizeBucket(size int64) string {
	switch {
	case size <= 0:
		return "unknown"
	case size < doctype.SmallThreshold:
		return "small"
	case size <= doctype.MediumThreshold:
		return "medium"
	case size <= doctype.LargeThreshold:
		return "large"
	default:
		return "huge"
	}
}

// CharacteristicsKey hashes the characteristics that drive method choice.
func CharacteristicsKey(ch doctype.Characteristics) string {
	return fmt.Sprintf("%s|%s|%t|%s", ch.Type, ch.Complexity, ch.HasImages, sizeBucket(ch.Size))
}

// ruleBased picks a method from document and environment heuristics.
func ruleBased(ch doctype.Characteristics, env Environment) (types.Method, string) {
	switch {
	case ch.Type == types.DocPasswordProtected:
		return types.MethodPDFJSCanvas, "password-protected documents need client-side decryption"
	case ch.Type == types.DocCorrupted:
		return types.MethodServerConversion, "server conversion can repair damaged files"
	case ch.Size > doctype.LargeThreshold:
		return types.MethodServerConversion, "large document"
	case env.Network == NetworkSlow && ch.Size > doctype.MediumThreshold:
		return types.MethodServerConversion, "slow network and medium document"
	case env.AvailableMemory > 0 && env.AvailableMemory < lowMemoryBytes && ch.Complexity == doctype.ComplexityHigh:
		return types.MethodServerConversion, "low memory and complex document"
	case env.Device == DeviceMobile && ch.HasImages:
		return types.MethodNativeBrowser, "image-heavy document on mobile"
	case ch.Complexity == doctype.ComplexityHigh:
		return types.MethodNativeBrowser, "complex document"
	default:
		return types.MethodPDFJSCanvas, "default"
	}
}

// SelectMethod returns the learned method for ch when it is trusted, and the
// rule-based choice otherwise.
func (o *Optimizer) SelectMethod(ch doctype.Characteristics, env Environment) Selection {
	key := CharacteristicsKey(ch)
	now := o.now()

	o.learned.mu.Lock()
	e, ok := o.learned.entries[key]
	var sel Selection
	if ok {
		sel.Confidence = Confidence(e.successRate(), e.uses, now.Sub(e.lastUsed))
		if sel.Confidence > ConfidenceThreshold {
			sel.Method = e.method
			sel.Learned = true
			sel.Reason = fmt.Sprintf("learned: %d/%d successes", e.successes, e.uses)
		}
	}
	o.learned.mu.Unlock()

	if !sel.Learned {
		sel.Method, sel.Reason = ruleBased(ch, env)
	}
	return sel
}

// RecordOutcome folds one attempt into the learned cache. A successful
// method replaces an untrusted entry for another method.
func (o *Optimizer) RecordOutcome(ch doctype.Characteristics, method types.Method, success bool, d time.Duration) {
	if !method.Valid() {
		return
	}
	key := CharacteristicsKey(ch)
	now := o.now()

	o.learned.mu.Lock()
	defer o.learned.mu.Unlock()
	if o.learned.entries == nil {
		o.learned.entries = make(map[string]*learnedEntry)
	}

	e, ok := o.learned.entries[key]
	switch {
	case !ok:
		if !success {
			return
		}
		o.evictLocked()
		e = &learnedEntry{method: method}
		o.learned.entries[key] = e
	case e.method != method:
		if !success || Trusted(e.successRate(), e.uses, now.Sub(e.lastUsed)) {
			return
		}
		*e = learnedEntry{method: method}
	}

	e.uses++
	if success {
		e.successes++
		e.totalTime += d
	}
	e.lastUsed = now
}

// evictLocked removes the least recently used entry when the cache is full.
func (o *Optimizer) evictLocked() {
	if len(o.learned.entries) < MaxLearnedEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, e := range o.learned.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey, oldest = k, e.lastUsed
		}
	}
	delete(o.learned.entries, oldestKey)
}

// LearnedEntry is an exported view of one learned cache entry.
type LearnedEntry struct {
	Key         string        `json:"key"`
	Method      types.Method  `json:"method"`
	SuccessRate float64       `json:"successRate"`
	AvgTime     time.Duration `json:"avgTime"`
	UseCount    int           `json:"useCount"`
	LastUsed    time.Time     `json:"lastUsed"`
}

// Learned returns the learned entry for ch, if any.
func (o *Optimizer) Learned(ch doctype.Characteristics) (LearnedEntry, bool) {
	key := CharacteristicsKey(ch)
	o.learned.mu.Lock()
	defer o.learned.mu.Unlock()
	e, ok := o.learned.entries[key]
	if !ok {
		return LearnedEntry{}, false
	}
	return LearnedEntry{
		Key:         key,
		Method:      e.method,
		SuccessRate: e.successRate(),
		AvgTime:     e.avgTime(),
		UseCount:    e.uses,
		LastUsed:    e.lastUsed,
	}, true
}
