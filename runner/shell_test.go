package runner

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
	dtest "github.com/teranos/dispatchd/internal/testing"
)

func newTestRunner(t *testing.T) (*ShellRunner, *db.Conn) {
	t.Helper()
	conn, cfg := dtest.CreateTestStore(t)
	handle := db.NewHandle(db.Opener(cfg, nil), nil)
	t.Cleanup(func() { handle.Close() })
	return NewShellRunner(handle, t.TempDir(), zaptest.NewLogger(t).Sugar()), conn
}

type jobRow struct {
	exitCode   int
	stdout     string
	stderr     string
	startedAt  string
	finishedAt string
}

func readJob(t *testing.T, conn *db.Conn, ref int64) jobRow {
	t.Helper()
	var row jobRow
	err := conn.QueryRowContext(context.Background(),
		"SELECT exitcode, stdout, stderr, started_at, finished_at FROM job WHERE id = ?", ref).
		Scan(&row.exitCode, &row.stdout, &row.stderr, &row.startedAt, &row.finishedAt)
	require.NoError(t, err)
	return row
}

func TestExists(t *testing.T) {
	r, conn := newTestRunner(t)
	ref := dtest.InsertJob(t, conn, nil, "true")

	ok, err := r.Exists(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(context.Background(), ref+100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_Success(t *testing.T) {
	r, conn := newTestRunner(t)
	ref := dtest.InsertJob(t, conn, nil, `sh -c "echo hello"`)

	res, err := r.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	row := readJob(t, conn, ref)
	assert.Equal(t, 0, row.exitCode)
	assert.Equal(t, "hello\n", row.stdout)
	assert.NotEmpty(t, row.startedAt)
	assert.NotEmpty(t, row.finishedAt)
}

func TestRun_NonZeroExitIsAResult(t *testing.T) {
	r, conn := newTestRunner(t)
	ref := dtest.InsertJob(t, conn, nil, `sh -c "echo broken >&2; exit 3"`)

	res, err := r.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "broken\n", res.Stderr)

	row := readJob(t, conn, ref)
	assert.Equal(t, 3, row.exitCode)
	assert.Equal(t, "broken\n", row.stderr)
}

func TestRun_LaunchFailure(t *testing.T) {
	r, conn := newTestRunner(t)

	tests := []struct {
		name    string
		command string
	}{
		{"missing binary", "/nonexistent/dispatchd-test-binary"},
		{"empty command", ""},
		{"unbalanced quote", `echo "oops`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := dtest.InsertJob(t, conn, nil, tt.command)
			res, err := r.Run(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, exitLaunchFailure, res.ExitCode)
			assert.NotEmpty(t, res.Stderr)
			assert.Equal(t, exitLaunchFailure, readJob(t, conn, ref).exitCode)
		})
	}
}

func TestRun_MissingJob(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.Run(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestRun_ResultNotRecorded(t *testing.T) {
	r, conn := newTestRunner(t)
	ref := dtest.InsertJob(t, conn, nil, `sh -c "echo hello"`)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `CREATE TRIGGER reject_result BEFORE UPDATE OF exitcode ON job
		WHEN NEW.exitcode IS NOT NULL BEGIN SELECT RAISE(ABORT, 'result rejected'); END`)
	require.NoError(t, err)

	res, err := r.Run(ctx, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResultNotRecorded))
	assert.Equal(t, 0, res.ExitCode, "the result of the finished command is returned")
	assert.Equal(t, "hello\n", res.Stdout)

	_, err = conn.ExecContext(ctx, "DROP TRIGGER reject_result")
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, ref, res))

	row := readJob(t, conn, ref)
	assert.Equal(t, 0, row.exitCode)
	assert.Equal(t, "hello\n", row.stdout)
}

func TestRun_RunsInWorkDir(t *testing.T) {
	r, conn := newTestRunner(t)
	ref := dtest.InsertJob(t, conn, nil, "pwd")

	res, err := r.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, r.workDir(ref), strings.TrimSpace(res.Stdout))

	require.NoError(t, r.Cleanup(context.Background(), ref))
	_, statErr := os.Stat(r.workDir(ref))
	assert.True(t, os.IsNotExist(statErr))

	// Cleaning up twice is harmless.
	require.NoError(t, r.Cleanup(context.Background(), ref))
}

func TestRun_ExportsJobID(t *testing.T) {
	r, conn := newTestRunner(t)
	ref := dtest.InsertJob(t, conn, nil, `sh -c 'echo $MULTIFLEXI_JOB_ID'`)

	res, err := r.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(ref, 10), strings.TrimSpace(res.Stdout))
}

func TestRun_OutputIsCapped(t *testing.T) {
	r, conn := newTestRunner(t)
	ref := dtest.InsertJob(t, conn, nil, `sh -c "head -c 100000 /dev/zero | tr '\\0' a; echo END"`)

	res, err := r.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Len(t, res.Stdout, maxOutputBytes)
	assert.True(t, strings.HasSuffix(res.Stdout, "END\n"))
}

func TestRun_CancelTerminatesJob(t *testing.T) {
	r, conn := newTestRunner(t)
	r.grace = 200 * time.Millisecond
	ref := dtest.InsertJob(t, conn, nil, "sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.Run(ctx, ref)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NotEqual(t, 0, res.ExitCode)

	// Recorded despite the cancelled context.
	assert.Equal(t, res.ExitCode, readJob(t, conn, ref).exitCode)
}
