package tactile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	calls  []Command
	result *ExecutionResult
	err    error
}

func (r *recordingExecutor) Execute(_ context.Context, cmd Command) (*ExecutionResult, error) {
	r.calls = append(r.calls, cmd)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestDirectExecutor_ExitCodes(t *testing.T) {
	requireBinary(t, "sh")
	e := NewDirectExecutor()

	res, err := e.Execute(context.Background(), Command{Binary: "sh", Arguments: []string{"-c", "echo out; echo err >&2"}})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, "out\n\nerr\n", res.Combined())

	res, err = e.Execute(context.Background(), Command{Binary: "sh", Arguments: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.OK())
}

func TestDirectExecutor_Timeout(t *testing.T) {
	requireBinary(t, "sleep")
	e := NewDirectExecutor()
	res, err := e.Execute(context.Background(), Command{Binary: "sleep", Arguments: []string{"5"}, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.Killed)
	assert.Contains(t, res.KillReason, "timeout")
}

func TestDirectExecutor_Errors(t *testing.T) {
	e := NewDirectExecutor()
	_, err := e.Execute(context.Background(), Command{})
	assert.Error(t, err)
	_, err = e.Execute(context.Background(), Command{Binary: "definitely-not-a-binary-xyz"})
	assert.Error(t, err)
}

func TestDirectExecutor_TruncatesOutput(t *testing.T) {
	requireBinary(t, "sh")
	e := NewDirectExecutorWithConfig(ExecutorConfig{MaxOutputBytes: 4})
	res, err := e.Execute(context.Background(), Command{Binary: "sh", Arguments: []string{"-c", "echo 0123456789"}})
	require.NoError(t, err)
	assert.Equal(t, "0123", res.Stdout)
	assert.True(t, res.Truncated)
}

func TestTailHash(t *testing.T) {
	a := "old 1\nold 2\nbuild ok\n$ "
	b := "old 2\nnew scroll\nbuild ok\n$ \n\n"
	assert.Equal(t, TailHash(a, 2), TailHash(b, 2), "only the last two non-empty lines count")
	assert.NotEqual(t, TailHash(a, 2), TailHash("build failed\n$ ", 2))
}

func TestTmux_CapturePane(t *testing.T) {
	rec := &recordingExecutor{result: &ExecutionResult{Stdout: "line 1\nline 2\n$ \n"}}
	tm := NewTmux(rec)

	c, err := tm.CapturePane(context.Background(), "%3", 10)
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2\n$ ", c.Text)
	assert.Equal(t, TailHash(c.Text, HashTailLines), c.Hash)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"capture-pane", "-p", "-J", "-t", "%3", "-S", "-10"}, rec.calls[0].Arguments)

	rec.result = &ExecutionResult{ExitCode: 1, Stderr: "can't find pane"}
	_, err = tm.CapturePane(context.Background(), "%9", 10)
	assert.ErrorContains(t, err, "can't find pane")
}

func TestTmux_SendKeys(t *testing.T) {
	rec := &recordingExecutor{result: &ExecutionResult{}}
	require.NoError(t, NewTmux(rec).SendKeys(context.Background(), "%1", "make test", true))
	assert.Equal(t, []string{"send-keys", "-t", "%1", "make test", "Enter"}, rec.calls[0].Arguments)
}

func TestGit_RunClassifiesAndPassesArgs(t *testing.T) {
	rec := &recordingExecutor{result: &ExecutionResult{Stdout: "ok"}}
	g := NewGit(rec, "/repo")

	res, err := g.Run(context.Background(), `git commit -m "msg with spaces"`)
	require.NoError(t, err)
	assert.Equal(t, Mutating, res.Class)
	assert.Equal(t, []string{"--no-pager", "commit", "-m", "msg with spaces"}, rec.calls[0].Arguments)
	assert.Equal(t, "/repo", rec.calls[0].WorkingDirectory)

	_, err = g.Run(context.Background(), "status; reboot")
	assert.ErrorIs(t, err, ErrShellOperator)
	assert.Len(t, rec.calls, 1, "rejected commands never run")
}

func TestGit_StatusAgainstRealRepo(t *testing.T) {
	requireBinary(t, "git")
	dir := t.TempDir()
	g := NewGit(NewDirectExecutor(), dir)

	init, err := g.RunArgs(context.Background(), "init", "-q")
	require.NoError(t, err)
	require.Equal(t, 0, init.Exit, init.Output)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	out, err := g.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "?? a.txt"), out)
}
