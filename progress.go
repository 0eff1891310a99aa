package pdfrender

import (
	"sync"
	"time"
)

// progressEntry is the live progress of one operation.
type progressEntry struct {
	state    ProgressState
	start    time.Time
	finished time.Time // zero while running
}

// progressTracker holds progress per rendering id. Finished entries stay
// queryable for the retention period. It is safe for concurrent use.
type progressTracker struct {
	now       func() time.Time
	retention func() time.Duration
	stuck     func() time.Duration

	mu      sync.Mutex
	entries map[string]*progressEntry
}

func newProgressTracker(now func() time.Time, retention, stuck func() time.Duration) *progressTracker {
	return &progressTracker{
		now:       now,
		retention: retention,
		stuck:     stuck,
		entries:   make(map[string]*progressEntry),
	}
}

// start registers id at 0%.
func (t *progressTracker) start(id string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	t.entries[id] = &progressEntry{
		state: ProgressState{Stage: StageInitializing, LastUpdate: now},
		start: now,
	}
}

// update moves id forward. Stages only advance, percentage never
// decreases, and a finished entry is left untouched.
func (t *progressTracker) update(id string, stage Stage, percentage float64) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || !e.finished.IsZero() {
		return
	}
	changed := false
	if e.state.Stage.CanAdvanceTo(stage) && stage != StageError {
		e.state.Stage = stage
		changed = true
	}
	percentage = min(max(percentage, 0), 100)
	if percentage > e.state.Percentage {
		e.state.Percentage = percentage
		changed = true
	}
	if changed {
		e.state.LastUpdate = now
	}
	e.state.TimeElapsed = now.Sub(e.start)
}

// bytes records download progress.
func (t *progressTracker) bytes(id string, loaded, total int64) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || !e.finished.IsZero() {
		return
	}
	if loaded > e.state.BytesLoaded {
		e.state.BytesLoaded = loaded
		e.state.LastUpdate = now
	}
	if total > 0 {
		e.state.TotalBytes = total
	}
	e.state.TimeElapsed = now.Sub(e.start)
}

// finish moves id to its terminal stage and starts the retention period.
func (t *progressTracker) finish(id string, success bool) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || !e.finished.IsZero() {
		return
	}
	if success {
		e.state.Stage = StageComplete
		e.state.Percentage = 100
	} else {
		e.state.Stage = StageError
	}
	e.state.IsStuck = false
	e.state.LastUpdate = now
	e.state.TimeElapsed = now.Sub(e.start)
	e.finished = now
}

// get returns a copy of the progress of id, or nil when unknown or past
// retention. IsStuck is derived at query time.
func (t *progressTracker) get(id string) *ProgressState {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	s := e.state
	if e.finished.IsZero() {
		s.TimeElapsed = now.Sub(e.start)
		s.IsStuck = now.Sub(s.LastUpdate) > t.stuck()
	}
	return &s
}

// sweepLocked drops entries past retention; t.mu must be held.
func (t *progressTracker) sweepLocked(now time.Time) {
	keep := t.retention()
	for id, e := range t.entries {
		if !e.finished.IsZero() && now.Sub(e.finished) > keep {
			delete(t.entries, id)
		}
	}
}

// len returns the number of tracked entries, finished or not.
func (t *progressTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
