// Package daemon runs the dispatch loop: it keeps a store connection,
// polls for due schedule entries and hands them to the supervisor.
//
// The loop is a three-state machine. AwaitingStore retries the connection
// with a bounded budget, Polling runs one cycle per pause, and Stopped is
// terminal. Only permanent store errors, an exhausted reconnect budget,
// the memory soft limit, a finished one-shot pass or cancellation stop it;
// a single job's failure never does.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/metrics"
	"github.com/teranos/dispatchd/pulse/schedule"
	"github.com/teranos/dispatchd/sym"
	"github.com/teranos/dispatchd/version"
)

// State of the dispatch loop.
type State string

const (
	StateAwaitingStore State = "awaiting_store"
	StatePolling       State = "polling"
	StateStopped       State = "stopped"
)

const (
	DefaultConnectAttempts   = 10
	DefaultConnectRetryDelay = 30 * time.Second
	DefaultCyclePause        = 10 * time.Second
	DefaultDrainTimeout      = 30 * time.Second
)

// Store is the loop's view of the schedule.
type Store interface {
	Due(ctx context.Context) ([]schedule.Entry, error)
	Close() error
}

// StoreOpener opens a fresh store.
type StoreOpener func(ctx context.Context) (Store, error)

// ScheduleStoreOpener adapts a connection opener into a StoreOpener backed
// by schedule.Store.
func ScheduleStoreOpener(open db.OpenFunc, log *zap.SugaredLogger, opts ...schedule.Option) StoreOpener {
	return func(ctx context.Context) (Store, error) {
		conn, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return schedule.NewStore(conn, log, opts...), nil
	}
}

// Dispatcher receives due entries. Implemented by supervisor.Supervisor.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry schedule.Entry) error
	Reap() int
	Drain(timeout time.Duration) int
}

// Config controls the loop.
type Config struct {
	Daemonize         bool
	CyclePause        time.Duration
	MemoryLimit       uint64 // bytes, 0 disables the guard
	ConnectAttempts   int
	ConnectRetryDelay time.Duration
	DrainTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.CyclePause <= 0 {
		c.CyclePause = DefaultCyclePause
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectRetryDelay < 0 {
		c.ConnectRetryDelay = DefaultConnectRetryDelay
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Outcome is how the loop ended. ExitCode is the process exit status; Err
// is set when a store failure stopped the loop.
type Outcome struct {
	ExitCode int
	Reason   string
	Err      error
}

// MemoryProbe returns current resident memory in bytes.
type MemoryProbe func() (uint64, error)

// Loop is the dispatch loop.
type Loop struct {
	open       StoreOpener
	dispatcher Dispatcher
	memory     MemoryProbe
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.SugaredLogger

	mu    sync.Mutex
	cfg   Config
	state State
}

// Option configures a Loop.
type Option func(*Loop)

// WithMemoryProbe sets how resident memory is measured.
func WithMemoryProbe(p MemoryProbe) Option {
	return func(l *Loop) { l.memory = p }
}

// New creates a loop in AwaitingStore.
func New(open StoreOpener, dispatcher Dispatcher, cfg Config, log *zap.SugaredLogger, opts ...Option) *Loop {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := &Loop{
		open:       open,
		dispatcher: dispatcher,
		sleep:      sleepContext,
		logger:     logger.AddPulseSymbol(log),
		cfg:        cfg.withDefaults(),
		state:      StateAwaitingStore,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetCyclePause changes the pause used from the next cycle on.
func (l *Loop) SetCyclePause(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if d != l.cfg.CyclePause {
		l.logger.Infow("Cycle pause changed", "from", l.cfg.CyclePause, "to", d)
	}
	l.cfg.CyclePause = d
}

func (l *Loop) config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Loop) transition(to State) {
	l.mu.Lock()
	from := l.state
	l.state = to
	l.mu.Unlock()

	metrics.SetLoopState(string(to))
	if from != to {
		l.logger.Debugw("Loop state changed",
			"from", string(from),
			logger.FieldState, string(to),
			logger.FieldSymbol, sym.ForState(string(to)))
	}
}

// Run drives the loop until it stops and returns why.
func (l *Loop) Run(ctx context.Context) Outcome {
	cfg := l.config()
	mode := "daemon"
	if !cfg.Daemonize {
		mode = "one-shot"
	}
	logger.AddPulseOpenSymbol(l.logger).Infow("MultiFlexi Executor Daemon started",
		logger.FieldVersion, version.Get().Release(),
		logger.FieldMode, mode,
		"cycle_pause", cfg.CyclePause,
		logger.FieldLimitMB, cfg.MemoryLimit/1024/1024)

	var store Store
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	l.transition(StateAwaitingStore)
	var out Outcome
	for {
		var done bool
		switch l.State() {
		case StateAwaitingStore:
			store, out, done = l.connect(ctx)
			if !done {
				l.transition(StatePolling)
			}
		case StatePolling:
			var reconnect bool
			out, reconnect, done = l.cycle(ctx, store)
			if reconnect {
				_ = store.Close()
				store = nil
				l.transition(StateAwaitingStore)
			}
		}
		if done {
			break
		}
	}

	return l.stop(out)
}

func (l *Loop) stop(out Outcome) Outcome {
	l.transition(StateStopped)
	l.dispatcher.Drain(l.config().DrainTimeout)

	log := logger.AddPulseCloseSymbol(l.logger).With(
		logger.FieldExitCode, out.ExitCode,
		logger.FieldReason, out.Reason)
	if out.ExitCode != 0 {
		log.Errorw("MultiFlexi Daemon ended")
	} else {
		log.Infow("MultiFlexi Daemon ended")
	}
	return out
}

// connect opens the store and proves it with a due-query round trip.
func (l *Loop) connect(ctx context.Context) (Store, Outcome, bool) {
	cfg := l.config()
	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, Outcome{Reason: "cancelled"}, true
		}

		store, err := l.open(ctx)
		if err == nil {
			if _, err = store.Due(ctx); err != nil {
				_ = store.Close()
			}
		}
		if err == nil {
			if attempt > 1 {
				logger.AddDBSymbol(l.logger).Infow("Store connection restored", logger.FieldAttempt, attempt)
			}
			return store, Outcome{}, false
		}
		if ctx.Err() != nil {
			return nil, Outcome{Reason: "cancelled"}, true
		}

		class := db.Classify(err)
		metrics.StoreErrors.WithLabelValues(class.String()).Inc()
		if class == db.ClassPermanent {
			l.logger.Errorw("Permanent store error, giving up",
				logger.FieldClass, class.String(),
				logger.FieldError, err)
			return nil, Outcome{ExitCode: 1, Reason: "permanent store error", Err: err}, true
		}
		lastErr = err

		l.logger.Warnw("Store unavailable",
			logger.FieldAttempt, attempt,
			"max_attempts", cfg.ConnectAttempts,
			logger.FieldDelay, cfg.ConnectRetryDelay,
			logger.FieldClass, class.String(),
			logger.FieldError, err)

		if attempt < cfg.ConnectAttempts {
			if l.sleep(ctx, cfg.ConnectRetryDelay) != nil {
				return nil, Outcome{Reason: "cancelled"}, true
			}
		}
	}

	l.logger.Errorw("Store unavailable, reconnect attempts exhausted", "max_attempts", cfg.ConnectAttempts)
	err := errors.WithSecondaryError(
		errors.Wrapf(errors.ErrStoreUnavailable, "%d connect attempts failed", cfg.ConnectAttempts),
		lastErr)
	return nil, Outcome{ExitCode: 1, Reason: "store unavailable", Err: err}, true
}

// cycle runs one polling pass. It reports whether to reconnect, or whether
// the loop is done and with what outcome.
func (l *Loop) cycle(ctx context.Context, store Store) (out Outcome, reconnect, done bool) {
	cfg := l.config()

	if cfg.MemoryLimit > 0 && l.memory != nil {
		used, err := l.memory()
		if err != nil {
			l.logger.Debugw("Memory probe failed", logger.FieldError, err)
		} else if used >= cfg.MemoryLimit {
			l.logger.Warnw("Memory soft limit reached, stopping",
				logger.FieldMemoryMB, used/1024/1024,
				logger.FieldLimitMB, cfg.MemoryLimit/1024/1024)
			return Outcome{Reason: "memory limit reached"}, false, true
		}
	}

	entries, err := store.Due(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Reason: "cancelled"}, false, true
		}
		class := db.Classify(err)
		metrics.StoreErrors.WithLabelValues(class.String()).Inc()
		if class == db.ClassPermanent {
			l.logger.Errorw("Permanent store error while polling",
				logger.FieldClass, class.String(),
				logger.FieldError, err)
			return Outcome{ExitCode: 1, Reason: "permanent store error", Err: err}, false, true
		}
		l.logger.Warnw("Polling failed, reconnecting",
			logger.FieldClass, class.String(),
			logger.FieldError, err)
		return Outcome{}, true, false
	}

	metrics.PollCycles.Inc()
	metrics.DueEntries.Set(float64(len(entries)))
	if len(entries) > 0 {
		l.logger.Infow("Due entries found", logger.FieldCount, len(entries))
	}

	for _, entry := range entries {
		if err := l.dispatcher.Dispatch(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return Outcome{Reason: "cancelled"}, false, true
			}
			l.logger.Warnw("Dispatch failed", logger.FieldEntryID, entry.ID, logger.FieldError, err)
		}
	}

	l.dispatcher.Reap()

	if !cfg.Daemonize {
		return Outcome{Reason: "one-shot pass complete"}, false, true
	}
	if l.sleep(ctx, cfg.CyclePause) != nil {
		return Outcome{Reason: "cancelled"}, false, true
	}
	return Outcome{}, false, false
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
