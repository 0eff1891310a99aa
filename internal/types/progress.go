package types

import "time"

// ProgressState is a point-in-time view of an operation's progress.
type ProgressState struct {
	Percentage  float64       `json:"percentage"`
	Stage       Stage         `json:"stage"`
	BytesLoaded int64         `json:"bytesLoaded"`
	TotalBytes  int64         `json:"totalBytes"`
	TimeElapsed time.Duration `json:"timeElapsed"`
	IsStuck     bool          `json:"isStuck"`
	LastUpdate  time.Time     `json:"lastUpdate"`
}
