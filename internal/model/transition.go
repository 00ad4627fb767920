package model

import "time"

// Transition records one task state change within a run. Transcripts are
// retained when the run-level history flag is set, and may additionally be
// persisted or published.
type Transition struct {
	RunID      string     `json:"run_id"`
	Task       string     `json:"task"`
	From       TaskStatus `json:"from"`
	To         TaskStatus `json:"to"`
	Detail     string     `json:"detail,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}
