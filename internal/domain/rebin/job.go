// Package rebin runs the per-stream loop that pastes every time slice of a
// stream into a shared output grid.
package rebin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/skyframe"
)

// Job is the unit of work for one input stream.
type Job struct {
	ID       uuid.UUID
	Stream   *model.Stream
	AbsSky   *skyframe.Frame   // shared output sky frame
	SkyToMap *skyframe.Mapping // shared output sky to pixel mapping
	Moving   bool
	Sink     *accum.Sink
	Created  time.Time

	ctx context.Context
}

// NewJob returns a job with a fresh ID.
func NewJob(stream *model.Stream, absSky *skyframe.Frame, skyToMap *skyframe.Mapping, sink *accum.Sink, moving bool) *Job {
	return &Job{
		ID:       uuid.New(),
		Stream:   stream,
		AbsSky:   absSky,
		SkyToMap: skyToMap,
		Moving:   moving,
		Sink:     sink,
		Created:  time.Now(),
	}
}

// WithContext returns a shallow copy of j bound to ctx. The runner stops the
// copy between slices once ctx is done, even when the job is dequeued late.
func (j *Job) WithContext(ctx context.Context) *Job {
	j2 := *j
	j2.ctx = ctx
	return &j2
}

// Context returns the job's context, or context.Background when none is set.
func (j *Job) Context() context.Context {
	if j.ctx != nil {
		return j.ctx
	}
	return context.Background()
}

// stopped reports why the job must not paste another slice: the worker's ctx
// or the job's own context.
func (j *Job) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.Context().Err()
}

// Result reports the outcome of one job.
type Result struct {
	JobID    uuid.UUID
	Stream   string
	Slices   int   // slices pasted before completion or failure
	Used     int64 // samples that reached the grid
	Duration time.Duration
	Err      error
}
