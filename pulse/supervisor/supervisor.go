// Package supervisor launches and tracks isolated workers, one per due
// schedule entry, under a parallelism cap.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/metrics"
	"github.com/teranos/dispatchd/pulse/schedule"
)

const (
	// DefaultSlotPoll is the sleep between reaps while waiting for a free slot.
	DefaultSlotPoll = 100 * time.Millisecond

	// DefaultDrainTimeout bounds how long shutdown waits for workers.
	DefaultDrainTimeout = 30 * time.Second
)

// InlineFunc runs an entry synchronously in the calling process.
type InlineFunc func(ctx context.Context, entry schedule.Entry) error

// Config holds the supervisor settings that can change at runtime.
type Config struct {
	MaxParallel int     // <= 0 means unlimited
	Isolation   bool    // false forces in-process execution
	LaunchRate  float64 // launches per second, 0 means unlimited
}

type tracked struct {
	entry   schedule.Entry
	proc    Process
	started time.Time
}

// Supervisor dispatches entries. Dispatch and Reap are called from the
// dispatch loop goroutine; the setters may be called from a config watcher.
type Supervisor struct {
	launcher Launcher
	inline   InlineFunc
	slotPoll time.Duration
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	maxParallel int
	isolation   bool
	limiter     *rate.Limiter
	workers     map[string]*tracked // by Process.ID
}

// New creates a supervisor. launcher may be nil when isolation is
// unavailable; inline is then used for every entry.
func New(launcher Launcher, inline InlineFunc, cfg Config, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Supervisor{
		launcher: launcher,
		inline:   inline,
		slotPoll: DefaultSlotPoll,
		logger:   log,
		workers:  make(map[string]*tracked),
	}
	s.Configure(cfg)
	return s
}

// Configure applies cfg to subsequent dispatches.
func (s *Supervisor) Configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxParallel = cfg.MaxParallel
	s.isolation = cfg.Isolation
	if cfg.LaunchRate > 0 {
		// Burst of one spaces launches evenly.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRate), 1)
	} else {
		s.limiter = nil
	}
}

// MaxParallel returns the current cap.
func (s *Supervisor) MaxParallel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxParallel
}

func (s *Supervisor) isolated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isolation && s.launcher != nil
}

// Dispatch hands entry to a worker and returns without waiting for it,
// unless the entry has to run in-process. Worker failures are logged; the
// only error returned is ctx cancellation while waiting for a slot.
func (s *Supervisor) Dispatch(ctx context.Context, entry schedule.Entry) error {
	log := s.logger.With(logger.FieldEntryID, entry.ID, logger.FieldJobID, entry.JobRef)

	if !s.isolated() {
		return s.runInline(ctx, entry, log)
	}

	if err := s.waitForSlot(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	limiter := s.limiter
	s.mu.Unlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "waiting for launch rate limit")
		}
	}

	proc, err := s.launcher.Launch(ctx, entry)
	if err != nil {
		log.Warnw("Isolated launch failed, running in-process", logger.FieldError, err)
		return s.runInline(ctx, entry, log)
	}

	s.mu.Lock()
	s.workers[proc.ID()] = &tracked{entry: entry, proc: proc, started: time.Now()}
	running := len(s.workers)
	s.mu.Unlock()

	metrics.Dispatches.WithLabelValues(metrics.ModeIsolated).Inc()
	metrics.WorkersRunning.Set(float64(running))
	logger.AddPulseOpenSymbol(log).Infow("Worker dispatched",
		logger.FieldWorkerID, proc.ID(),
		logger.FieldPID, proc.Pid(),
		logger.FieldRunning, running)
	return nil
}

func (s *Supervisor) runInline(ctx context.Context, entry schedule.Entry, log *zap.SugaredLogger) error {
	metrics.Dispatches.WithLabelValues(metrics.ModeInline).Inc()
	log.Debugw("Running entry in-process")
	if err := s.inline(ctx, entry); err != nil {
		metrics.ObserveWorkerExit(1)
		log.Warnw("In-process run failed", logger.FieldError, err)
		return nil
	}
	metrics.ObserveWorkerExit(0)
	return nil
}

// waitForSlot busy-polls, reaping between checks, until fewer than
// max_parallel workers are tracked.
func (s *Supervisor) waitForSlot(ctx context.Context) error {
	for {
		s.Reap()
		s.mu.Lock()
		limit, running := s.maxParallel, len(s.workers)
		s.mu.Unlock()
		if limit <= 0 || running < limit {
			return nil
		}

		t := time.NewTimer(s.slotPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Reap forgets workers that have terminated. It never blocks.
func (s *Supervisor) Reap() int {
	s.mu.Lock()
	var finished []*tracked
	for id, w := range s.workers {
		select {
		case <-w.proc.Done():
			finished = append(finished, w)
			delete(s.workers, id)
		default:
		}
	}
	running := len(s.workers)
	s.mu.Unlock()

	for _, w := range finished {
		code := w.proc.ExitCode()
		metrics.ObserveWorkerExit(code)
		l := logger.AddPulseCloseSymbol(s.logger).With(
			logger.FieldEntryID, w.entry.ID,
			logger.FieldJobID, w.entry.JobRef,
			logger.FieldWorkerID, w.proc.ID(),
			logger.FieldPID, w.proc.Pid(),
			logger.FieldExitCode, code,
			logger.FieldDurationMS, time.Since(w.started).Milliseconds())
		if code != 0 {
			l.Warnw("Worker failed")
		} else {
			l.Debugw("Worker finished")
		}
	}
	if len(finished) > 0 {
		metrics.WorkersRunning.Set(float64(running))
	}
	return len(finished)
}

// Running is the number of tracked workers.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Drain waits for tracked workers to finish, up to timeout. Workers are
// never killed. It returns how many were still running.
func (s *Supervisor) Drain(timeout time.Duration) int {
	if s.Reap(); s.Running() == 0 {
		return 0
	}

	s.mu.Lock()
	procs := make([]Process, 0, len(s.workers))
	for _, w := range s.workers {
		procs = append(procs, w.proc)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	log := logger.AddPulseCloseSymbol(s.logger)
	log.Infow("Waiting for workers", logger.FieldRunning, len(procs), "timeout", timeout)
	select {
	case <-done:
	case <-time.After(timeout):
	}

	s.Reap()
	left := s.Running()
	if left > 0 {
		log.Warnw("Drain timeout, workers still running", logger.FieldRunning, left)
	}
	return left
}
