// Package runner resolves a job reference into a command line, executes it
// and records the outcome on the job row.
package runner

import (
	"context"
	"time"

	"github.com/teranos/dispatchd/errors"
)

// ErrResultNotRecorded marks a Run error raised after the command finished.
// The returned ExecutionResult is valid and the job must not be run again;
// only the result still has to be stored.
var ErrResultNotRecorded = errors.New("job result not recorded")

// ExecutionResult is what a finished job produced.
type ExecutionResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the job ran.
func (r ExecutionResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// JobRunner is the boundary between the dispatch engine and job execution.
// All methods are synchronous.
type JobRunner interface {
	// Exists reports whether ref resolves to a runnable job.
	Exists(ctx context.Context, ref int64) (bool, error)
	// Run executes the job to completion. A non-zero exit code is a result,
	// not an error; errors mean the run could not be carried out or recorded.
	Run(ctx context.Context, ref int64) (ExecutionResult, error)
	// Cleanup releases per-job resources after completion.
	Cleanup(ctx context.Context, ref int64) error
}

// ResultRecorder is implemented by runners that can store a result again
// after Run reported ErrResultNotRecorded.
type ResultRecorder interface {
	Record(ctx context.Context, ref int64, result ExecutionResult) error
}
