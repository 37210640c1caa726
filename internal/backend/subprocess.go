package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/log"
)

const (
	maxOutputBytes          = 64 * 1024
	defaultTerminationGrace = 5 * time.Second
)

// Subprocess runs an external image-to-3D tool.
type Subprocess struct {
	cfg    config.SubprocessConfig
	grace  time.Duration
	logger *slog.Logger
}

func NewSubprocess(cfg config.SubprocessConfig, grace time.Duration) *Subprocess {
	if grace <= 0 {
		grace = defaultTerminationGrace
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "{stem}.glb"
	}
	return &Subprocess{
		cfg:    cfg,
		grace:  grace,
		logger: log.WithBackend("subprocess"),
	}
}

func (s *Subprocess) Name() string { return "subprocess" }

func (s *Subprocess) OutputName(inv Invocation) string {
	return expandOutputName(s.cfg.OutputName, inv)
}

// Generate runs the tool and waits for it. When ctx ends first, the tool's
// process group is terminated and a *TerminatedError is returned.
func (s *Subprocess) Generate(ctx context.Context, inv Invocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	args := append(append([]string{}, s.cfg.Args...), inv.InputPath, "--output-dir", inv.ScratchDir)

	// Termination is driven below, not by exec.CommandContext.
	cmd := exec.Command(s.cfg.Command, args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env, "SKETCHAR_JOB_ID="+inv.JobID)
	setProcessGroup(cmd)

	stdout := newTailBuffer(maxOutputBytes)
	stderr := newTailBuffer(maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger := s.logger.With("job_id", inv.JobID)
	logger.Debug("spawning backend", "command", s.cfg.Command, "args", args, "workdir", s.cfg.WorkDir)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	pid := cmd.Process.Pid

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Warn("backend deadline reached, sending SIGTERM", "pid", pid)
		if err := signalGroup(cmd.Process, syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(s.grace)
		defer grace.Stop()

		killed := false
		select {
		case <-waitErr:
			logger.Info("backend exited after SIGTERM")
		case <-grace.C:
			logger.Warn("backend did not exit after SIGTERM, sending SIGKILL", "grace", s.grace)
			if err := signalGroup(cmd.Process, syscall.SIGKILL); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			<-waitErr
			killed = true
		}
		// Stragglers that ignored SIGTERM without holding our pipes.
		_ = signalGroup(cmd.Process, syscall.SIGKILL)

		return &TerminatedError{Cause: ctx.Err(), Killed: killed, Stderr: stderr.String()}

	case err := <-waitErr:
		// The tool is done; nothing it spawned may keep writing to scratch.
		_ = signalGroup(cmd.Process, syscall.SIGKILL)

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("backend exited with non-zero status",
					"exit_code", exitErr.ExitCode(),
					"stderr", stderr.String(),
				)
				return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
			}
			return fmt.Errorf("wait for backend: %w", err)
		}
		if out := stdout.String(); out != "" {
			logger.Debug("backend output", "stdout", out)
		}
		return nil
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	buf  []byte
	lost bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.max {
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		b.lost = true
		return n, nil
	}
	if over := len(b.buf) + n - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.lost = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lost {
		return "...[truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}
