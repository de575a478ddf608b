// Package types contains common types used across the application
package types

import "time"

// Job statuses reported per stream.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// StreamReport is the outcome of one stream in a run.
type StreamReport struct {
	Stream     string  `json:"stream"`
	JobID      string  `json:"job_id,omitempty"`
	Status     string  `json:"status"`
	Slices     int     `json:"slices"`
	Used       int64   `json:"used"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// RunReport summarises one rebin run over many streams.
type RunReport struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Streams  []StreamReport `json:"streams"`
	Slices   int            `json:"slices"`
	Used     int64          `json:"used"`
	Failed   int            `json:"failed"`
}

// OK reports whether every stream of the run succeeded.
func (r RunReport) OK() bool { return r.Failed == 0 }

// Duration returns the wall time of the run.
func (r RunReport) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Add appends a stream outcome and updates the totals.
func (r *RunReport) Add(s StreamReport) {
	r.Streams = append(r.Streams, s)
	r.Slices += s.Slices
	r.Used += s.Used
	if s.Status != StatusOK {
		r.Failed++
	}
}
