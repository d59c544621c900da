package supervisor

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/schedule"
)

// WorkerIDEnv carries the invocation id into an isolated worker.
const WorkerIDEnv = "MULTIFLEXI_WORKER_ID"

// Process is a launched isolated worker.
type Process interface {
	// ID is unique per launch, unlike the pid which the OS may reuse.
	ID() string
	Pid() int
	// Done is closed once the worker has terminated.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed.
	ExitCode() int
}

// Launcher starts one isolated worker for an entry.
type Launcher interface {
	Launch(ctx context.Context, entry schedule.Entry) (Process, error)
}

// ExecLauncher re-executes a binary with the hidden worker command.
// The child gets no inherited connection; DB_PERSISTENT=false is forced.
type ExecLauncher struct {
	path    string
	prefix  []string
	envFile string
	env     []string
	logger  *zap.SugaredLogger
}

// LauncherOption configures an ExecLauncher.
type LauncherOption func(*ExecLauncher)

// WithCommand replaces the executable and inserts args before the worker
// command.
func WithCommand(path string, args ...string) LauncherOption {
	return func(l *ExecLauncher) {
		l.path = path
		l.prefix = args
	}
}

// WithEnvFile forwards an explicit env file to the worker.
func WithEnvFile(path string) LauncherOption {
	return func(l *ExecLauncher) { l.envFile = path }
}

// WithEnv adds variables to the worker environment.
func WithEnv(kv ...string) LauncherOption {
	return func(l *ExecLauncher) { l.env = append(l.env, kv...) }
}

// NewExecLauncher resolves the running executable. It fails when the path
// cannot be determined, in which case isolation is unavailable.
func NewExecLauncher(log *zap.SugaredLogger, opts ...LauncherOption) (*ExecLauncher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := &ExecLauncher{logger: log}
	for _, opt := range opts {
		opt(l)
	}
	if l.path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "cannot resolve own executable for isolated workers")
		}
		l.path = exe
	}
	return l, nil
}

// Args returns the argument list for entry, without the executable.
func (l *ExecLauncher) Args(entry schedule.Entry) []string {
	args := append([]string{}, l.prefix...)
	args = append(args, "worker",
		"--entry", strconv.FormatInt(entry.ID, 10),
		"--job", strconv.FormatInt(entry.JobRef, 10))
	if l.envFile != "" {
		args = append(args, "--env-file", l.envFile)
	}
	return args
}

// Launch starts the worker. The child is not bound to ctx; on shutdown it
// is waited for by Drain, never killed.
func (l *ExecLauncher) Launch(ctx context.Context, entry schedule.Entry) (Process, error) {
	workerID := uuid.NewString()

	cmd := exec.Command(l.path, l.Args(entry)...)
	cmd.Env = append(os.Environ(), l.env...)
	cmd.Env = append(cmd.Env, "DB_PERSISTENT=false", WorkerIDEnv+"="+workerID)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to launch worker for entry %d", entry.ID)
	}

	p := &execProcess{id: workerID, cmd: cmd, done: make(chan struct{})}
	go p.wait()

	l.logger.Debugw("Worker launched",
		logger.FieldEntryID, entry.ID,
		logger.FieldJobID, entry.JobRef,
		logger.FieldWorkerID, workerID,
		logger.FieldPID, p.Pid())

	return p, nil
}

type execProcess struct {
	id   string
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	code int
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.mu.Lock()
	p.code = code
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) ID() string            { return p.id }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}
