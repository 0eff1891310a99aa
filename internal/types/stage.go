package types

import "fmt"

// Stage is a phase within one rendering attempt.
type Stage uint8

// Stages progress forward only; StageError is reachable from any stage.
const (
	StageInitializing Stage = iota
	StageFetching
	StageParsing
	StageRendering
	StageFinalizing
	StageComplete
	StageError
)

var stageNames = [...]string{
	StageInitializing: "initializing",
	StageFetching:     "fetching",
	StageParsing:      "parsing",
	StageRendering:    "rendering",
	StageFinalizing:   "finalizing",
	StageComplete:     "complete",
	StageError:        "error",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("unknown-stage(%d)", uint8(s))
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// CanAdvanceTo reports whether moving from s to next respects stage ordering.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageError {
		return true
	}
	return next > s && next <= StageComplete
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(b))
}
