package runner

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/dispatchd/am"
	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/internal/util"
	"github.com/teranos/dispatchd/logger"
)

const (
	// maxOutputBytes caps stored stdout and stderr; the tail is kept.
	maxOutputBytes = 64 * 1024

	// terminationGracePeriod is the wait between SIGTERM and SIGKILL on cancel.
	terminationGracePeriod = 5 * time.Second

	// exitLaunchFailure is recorded when the command cannot be started.
	exitLaunchFailure = 127
)

// ShellRunner runs the command stored on a job row as a child process.
type ShellRunner struct {
	store    *db.Handle
	workRoot string
	logger   *zap.SugaredLogger
	grace    time.Duration
}

// NewShellRunner creates a runner reading jobs through store. Each job gets
// a working directory under workRoot (os.TempDir() when empty).
func NewShellRunner(store *db.Handle, workRoot string, log *zap.SugaredLogger) *ShellRunner {
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "dispatchd")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ShellRunner{store: store, workRoot: workRoot, logger: log, grace: terminationGracePeriod}
}

func (r *ShellRunner) workDir(ref int64) string {
	return filepath.Join(r.workRoot, "job-"+strconv.FormatInt(ref, 10))
}

// Exists reports whether the job row is present.
func (r *ShellRunner) Exists(ctx context.Context, ref int64) (bool, error) {
	conn, err := r.store.Get(ctx)
	if err != nil {
		return false, err
	}
	var n int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM job WHERE id = ?", ref).Scan(&n); err != nil {
		return false, errors.Wrapf(err, "failed to look up job %d", ref)
	}
	return n > 0, nil
}

// Run executes the job's command and stores exit code and output on the row.
func (r *ShellRunner) Run(ctx context.Context, ref int64) (ExecutionResult, error) {
	command, err := r.command(ctx, ref)
	if err != nil {
		return ExecutionResult{}, err
	}

	result := ExecutionResult{StartedAt: time.Now()}
	if err := r.update(ctx, ref, "UPDATE job SET started_at = ?, exitcode = NULL WHERE id = ?", result.StartedAt); err != nil {
		return ExecutionResult{}, err
	}

	r.execute(ctx, ref, command, &result)
	result.FinishedAt = time.Now()

	r.logger.Infow("Job finished",
		logger.FieldJobID, ref,
		logger.FieldExitCode, result.ExitCode,
		logger.FieldDurationMS, result.Duration().Milliseconds())

	// The outcome is recorded even when the run was cancelled.
	if err := r.Record(context.WithoutCancel(ctx), ref, result); err != nil {
		return result, errors.Mark(
			errors.Wrapf(err, "job %d finished with exit code %d but the result was not recorded", ref, result.ExitCode),
			ErrResultNotRecorded)
	}
	return result, nil
}

// Record stores exit code, output and finish time on the job row.
func (r *ShellRunner) Record(ctx context.Context, ref int64, result ExecutionResult) error {
	return r.update(ctx, ref,
		"UPDATE job SET exitcode = ?, stdout = ?, stderr = ?, finished_at = ? WHERE id = ?",
		result.ExitCode, result.Stdout, result.Stderr, result.FinishedAt)
}

// Cleanup removes the job's working directory.
func (r *ShellRunner) Cleanup(ctx context.Context, ref int64) error {
	if err := os.RemoveAll(r.workDir(ref)); err != nil {
		return errors.Wrapf(err, "failed to remove working directory of job %d", ref)
	}
	return nil
}

func (r *ShellRunner) command(ctx context.Context, ref int64) (string, error) {
	conn, err := r.store.Get(ctx)
	if err != nil {
		return "", err
	}
	var command sql.NullString
	err = conn.QueryRowContext(ctx, "SELECT command FROM job WHERE id = ?", ref).Scan(&command)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NewJobNotFoundError(ref)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to load command of job %d", ref)
	}
	return command.String, nil
}

// update runs a statement whose last placeholder is the job id. Time values
// are converted for the engine.
func (r *ShellRunner) update(ctx context.Context, ref int64, query string, args ...interface{}) error {
	conn, err := r.store.Get(ctx)
	if err != nil {
		return err
	}
	bound := make([]interface{}, 0, len(args)+1)
	for _, a := range args {
		if t, ok := a.(time.Time); ok {
			a = conn.Dialect().Timestamp(t)
		}
		bound = append(bound, a)
	}
	bound = append(bound, ref)
	if _, err := conn.ExecContext(ctx, query, bound...); err != nil {
		return errors.Wrapf(err, "failed to update job %d", ref)
	}
	return nil
}

// execute fills result. Launch problems are recorded as exit code 127 with
// the reason on stderr, so they complete like any other failed command.
func (r *ShellRunner) execute(ctx context.Context, ref int64, command string, result *ExecutionResult) {
	argv, err := shellquote.Split(command)
	if err != nil || len(argv) == 0 {
		result.ExitCode = exitLaunchFailure
		result.Stderr = fmt.Sprintf("invalid command %q: %v", command, err)
		return
	}

	dir := r.workDir(ref)
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		result.ExitCode = exitLaunchFailure
		result.Stderr = fmt.Sprintf("create working directory: %v", err)
		return
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "MULTIFLEXI_JOB_ID="+strconv.FormatInt(ref, 10))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debugw("Spawning job", logger.FieldJobID, ref, "argv0", argv[0])

	if err := cmd.Start(); err != nil {
		result.ExitCode = exitLaunchFailure
		result.Stderr = err.Error()
		return
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var werr error
	select {
	case werr = <-waitErr:
	case <-ctx.Done():
		r.logger.Warnw("Job cancelled, sending SIGTERM", logger.FieldJobID, ref)
		_ = cmd.Process.Signal(syscall.SIGTERM)
		grace := time.NewTimer(r.grace)
		select {
		case werr = <-waitErr:
		case <-grace.C:
			r.logger.Warnw("Job did not exit after SIGTERM, sending SIGKILL", logger.FieldJobID, ref)
			_ = cmd.Process.Kill()
			werr = <-waitErr
		}
		grace.Stop()
	}

	result.ExitCode = 0
	if werr != nil {
		var exitErr *exec.ExitError
		if errors.As(werr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = exitLaunchFailure
			stderr.WriteString(werr.Error())
		}
	}

	out, _ := util.TailBytes(stdout.Bytes(), maxOutputBytes)
	errOut, _ := util.TailBytes(stderr.Bytes(), maxOutputBytes)
	result.Stdout = string(out)
	result.Stderr = string(errOut)
}
