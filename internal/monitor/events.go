package monitor

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/alnah/go-pdfrender/internal/diagnostics"
	"github.com/alnah/go-pdfrender/internal/types"
)

// EventType names a monitoring event.
type EventType string

const (
	EventOperationStarted   EventType = "operation-started"
	EventStageUpdated       EventType = "stage-updated"
	EventOperationCompleted EventType = "operation-completed"
	EventOperationFailed    EventType = "operation-failed"
	EventErrorOccurred      EventType = "error-occurred"
	EventAlertTriggered     EventType = "alert-triggered"
	EventFeedbackRequested  EventType = "feedback-requested"
)

// Event is delivered to listeners. Pointer fields are copies owned by the
// listener.
type Event struct {
	Type        EventType
	RenderingID string
	Stage       types.Stage
	Method      types.Method
	Error       *types.RenderError
	Alert       *Alert
	Feedback    *Feedback
	Data        *diagnostics.Data
	Time        time.Time
}

// Listener receives monitoring events. Listeners run synchronously on the
// emitting goroutine; a panicking listener is logged and skipped.
type Listener func(Event)

// Subscribe registers l and returns a function that removes it.
func (s *System) Subscribe(l Listener) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *System) emit(ev Event) {
	s.lmu.RLock()
	if len(s.listeners) == 0 {
		s.lmu.RUnlock()
		return
	}
	ids := slices.Sorted(maps.Keys(s.listeners))
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.lmu.RUnlock()

	for _, l := range ls {
		s.deliver(l, ev)
	}
}

func (s *System) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("monitor listener panicked", "event", ev.Type, "panic", fmt.Sprint(r))
		}
	}()
	l(ev)
}
