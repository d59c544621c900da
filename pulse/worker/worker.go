// Package worker executes exactly one schedule entry: it resolves the job,
// runs it and retires the entry. It is the body of every isolated worker
// process and of the in-process fallback.
//
// Connections are never shared with the caller. Every attempt opens its
// own, and completion is recorded over a second fresh connection so a
// long-running job cannot leave the retiring write on a stale session.
package worker

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/schedule"
	"github.com/teranos/dispatchd/runner"
)

const (
	// MaxAttempts bounds how often one entry is tried per dispatch.
	MaxAttempts = 2

	// DefaultBackoff is the base delay between attempts.
	DefaultBackoff = 2 * time.Second
)

// Outcome describes how an Execute call ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeJobNotFound Outcome = "job_not_found"
	OutcomeFailed      Outcome = "failed"
)

// Result is the outcome of one Execute call.
type Result struct {
	Outcome  Outcome
	ExitCode int // job exit code, meaningful when Outcome is completed
	Attempts int
}

// RunnerFactory builds a JobRunner over a connection handle owned by the
// worker for the duration of one attempt.
type RunnerFactory func(store *db.Handle) runner.JobRunner

// Worker runs schedule entries.
type Worker struct {
	open         db.OpenFunc
	newRunner    RunnerFactory
	pruneMissing bool
	backoff      time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.SugaredLogger
}

// Option configures a Worker.
type Option func(*Worker)

// WithPruneMissingJobs removes entries whose job no longer exists instead of
// keeping them due.
func WithPruneMissingJobs(prune bool) Option {
	return func(w *Worker) { w.pruneMissing = prune }
}

// WithBackoff overrides the base retry delay.
func WithBackoff(d time.Duration) Option {
	return func(w *Worker) { w.backoff = d }
}

// New creates a worker that opens store connections with open.
func New(open db.OpenFunc, newRunner RunnerFactory, log *zap.SugaredLogger, opts ...Option) *Worker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w := &Worker{
		open:      open,
		newRunner: newRunner,
		backoff:   DefaultBackoff,
		sleep:     sleepContext,
		logger:    log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs entry to completion. A second attempt is made only when the
// first failed with a transient store error. Once the job has run, a retry
// only repeats the steps after it: storing the result and retiring the entry.
func (w *Worker) Execute(ctx context.Context, entry schedule.Entry) (Result, error) {
	ctx = logger.WithJobID(ctx, entry.JobRef)
	log := logger.LoggerFromContext(ctx, w.logger).With(logger.FieldEntryID, entry.ID)

	var p progress
	for attempt := 1; ; attempt++ {
		res, err := w.attempt(ctx, entry, &p, log)
		res.Attempts = attempt
		if err == nil {
			return res, nil
		}

		if attempt >= MaxAttempts || !db.IsRetryable(err) {
			log.Errorw("Worker failed, entry stays due",
				logger.FieldAttempt, attempt,
				logger.FieldClass, db.Classify(err).String(),
				logger.FieldError, err)
			return Result{Outcome: OutcomeFailed, Attempts: attempt}, err
		}

		delay := w.backoff*time.Duration(attempt) + jitter(w.backoff)
		log.Warnw("Transient store error, retrying",
			logger.FieldAttempt, attempt,
			logger.FieldDelay, delay,
			logger.FieldError, err)
		if serr := w.sleep(ctx, delay); serr != nil {
			return Result{Outcome: OutcomeFailed, Attempts: attempt}, errors.WithSecondaryError(serr, err)
		}
	}
}

// progress is what earlier attempts of one Execute call achieved.
type progress struct {
	result   *runner.ExecutionResult // set once the job has run
	recorded bool
}

func (w *Worker) attempt(ctx context.Context, entry schedule.Entry, p *progress, log *zap.SugaredLogger) (Result, error) {
	if p.result == nil {
		handle := db.NewHandle(w.open, w.logger)
		defer handle.Close()
		jr := w.newRunner(handle)

		exists, err := jr.Exists(ctx, entry.JobRef)
		if err != nil {
			return Result{}, err
		}
		if !exists {
			return w.jobNotFound(ctx, entry, log)
		}

		res, err := jr.Run(ctx, entry.JobRef)
		switch {
		case errors.Is(err, runner.ErrResultNotRecorded):
			p.result = &res
			log.Warnw("Job ran but its result was not recorded",
				logger.FieldExitCode, res.ExitCode,
				logger.FieldError, err)
			return Result{}, err
		case errors.Is(err, errors.ErrJobNotFound):
			return w.jobNotFound(ctx, entry, log)
		case err != nil:
			return Result{}, err
		}
		p.result = &res
		p.recorded = true
	}

	if !p.recorded {
		if err := w.record(ctx, entry, *p.result); err != nil {
			return Result{}, err
		}
		p.recorded = true
	}

	if err := w.retire(ctx, entry); err != nil {
		return Result{}, err
	}

	handle := db.NewHandle(w.open, w.logger)
	defer handle.Close()
	if err := w.newRunner(handle).Cleanup(ctx, entry.JobRef); err != nil {
		log.Warnw("Job cleanup failed", logger.FieldError, err)
	}

	return Result{Outcome: OutcomeCompleted, ExitCode: p.result.ExitCode}, nil
}

// record stores a result that Run could not, when the runner supports it.
func (w *Worker) record(ctx context.Context, entry schedule.Entry, res runner.ExecutionResult) error {
	handle := db.NewHandle(w.open, w.logger)
	defer handle.Close()
	rec, ok := w.newRunner(handle).(runner.ResultRecorder)
	if !ok {
		return nil
	}
	return rec.Record(ctx, entry.JobRef, res)
}

func (w *Worker) jobNotFound(ctx context.Context, entry schedule.Entry, log *zap.SugaredLogger) (Result, error) {
	log.Warnf("Job #%d does not exist", entry.JobRef)
	if w.pruneMissing {
		if err := w.retire(ctx, entry); err != nil {
			return Result{}, err
		}
		log.Infow("Removed schedule entry of missing job")
	}
	return Result{Outcome: OutcomeJobNotFound}, nil
}

// retire deletes the entry over a fresh connection.
func (w *Worker) retire(ctx context.Context, entry schedule.Entry) error {
	conn, err := w.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return schedule.NewStore(conn, w.logger).Remove(ctx, entry.ID)
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(base)/2 + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
