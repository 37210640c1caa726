//go:build unix

package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sketchar/internal/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newInvocation(t *testing.T) Invocation {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.png")
	require.NoError(t, os.WriteFile(input, []byte("image"), 0o644))
	scratch := filepath.Join(dir, "scratch")
	require.NoError(t, os.Mkdir(scratch, 0o755))
	return Invocation{JobID: "job-1", InputPath: input, ScratchDir: scratch}
}

// processGone reports whether pid has exited. Zombies count as gone.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return os.IsNotExist(err)
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func waitGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if processGone(pid) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process %d still running", pid)
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	var raw []byte
	require.Eventually(t, func() bool {
		var err error
		raw, err = os.ReadFile(path)
		return err == nil && len(strings.TrimSpace(string(raw))) > 0
	}, 2*time.Second, 10*time.Millisecond)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	return pid
}

func TestSubprocessSuccessWritesConventionalOutput(t *testing.T) {
	script := writeScript(t, `
in="$1"; out="$3"
stem=$(basename "$in"); stem="${stem%.*}"
printf 'glTF-from-%s' "$SKETCHAR_JOB_ID" > "$out/$stem.glb"
echo "done"
`)
	inv := newInvocation(t)
	s := NewSubprocess(config.SubprocessConfig{Command: script}, 0)

	require.NoError(t, s.Generate(context.Background(), inv))

	got, err := os.ReadFile(s.OutputName(inv))
	require.NoError(t, err)
	assert.Equal(t, "glTF-from-job-1", string(got))
}

func TestSubprocessPassesArgsWorkdirAndEnv(t *testing.T) {
	workdir := t.TempDir()
	script := writeScript(t, `
for last; do :; done
{
  echo "args=$*"
  echo "pwd=$(pwd -P)"
  echo "extra=$EXTRA_SETTING"
} > "$last/trace.txt"
`)
	inv := newInvocation(t)
	s := NewSubprocess(config.SubprocessConfig{
		Command: script,
		Args:    []string{"--model-save-format", "glb"},
		WorkDir: workdir,
		Env:     []string{"EXTRA_SETTING=on"},
	}, 0)

	require.NoError(t, s.Generate(context.Background(), inv))

	trace, err := os.ReadFile(filepath.Join(inv.ScratchDir, "trace.txt"))
	require.NoError(t, err)
	text := string(trace)
	assert.Contains(t, text, "args=--model-save-format glb "+inv.InputPath+" --output-dir "+inv.ScratchDir)
	resolved, err := filepath.EvalSymlinks(workdir)
	require.NoError(t, err)
	assert.Contains(t, text, "pwd="+resolved)
	assert.Contains(t, text, "extra=on")
}

func TestSubprocessNonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "CUDA out of memory" >&2; exit 3`)
	s := NewSubprocess(config.SubprocessConfig{Command: script}, 0)

	err := s.Generate(context.Background(), newInvocation(t))

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "CUDA out of memory")
}

func TestSubprocessMissingCommand(t *testing.T) {
	s := NewSubprocess(config.SubprocessConfig{Command: filepath.Join(t.TempDir(), "missing")}, 0)

	err := s.Generate(context.Background(), newInvocation(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start backend")
}

func TestSubprocessTimeoutTerminatesGroup(t *testing.T) {
	script := writeScript(t, `
sleep 30 &
echo $! > "$3/child.pid"
wait
`)
	inv := newInvocation(t)
	s := NewSubprocess(config.SubprocessConfig{Command: script}, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Generate(ctx, inv)
	elapsed := time.Since(start)

	var termErr *TerminatedError
	require.True(t, errors.As(err, &termErr), "got %v", err)
	assert.False(t, termErr.Killed, "SIGTERM should have been enough")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)

	waitGone(t, readPID(t, filepath.Join(inv.ScratchDir, "child.pid")))
}

func TestSubprocessTimeoutEscalatesToSIGKILL(t *testing.T) {
	script := writeScript(t, `
trap '' TERM
sleep 30 &
echo $! > "$3/child.pid"
while :; do wait; done
`)
	inv := newInvocation(t)
	s := NewSubprocess(config.SubprocessConfig{Command: script}, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Generate(ctx, inv)
	elapsed := time.Since(start)

	var termErr *TerminatedError
	require.True(t, errors.As(err, &termErr), "got %v", err)
	assert.True(t, termErr.Killed)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 10*time.Second)

	waitGone(t, readPID(t, filepath.Join(inv.ScratchDir, "child.pid")))
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := newTailBuffer(8)

	_, _ = b.Write([]byte("hello"))
	assert.Equal(t, "hello", b.String())

	_, _ = b.Write([]byte(" world"))
	assert.Equal(t, "...[truncated]\nlo world", b.String())

	n, err := b.Write([]byte("0123456789ABC"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, "...[truncated]\n56789ABC", b.String())
}
