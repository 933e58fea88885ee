// Package process runs the external build step and streams its output.
//
// Import Path: metapub.io/metapub/internal/process
package process

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "metapub.io/metapub/internal/pkg/errors"
	"metapub.io/metapub/internal/pkg/logger"
)

const (
	// DefaultTailLines is how many trailing output lines are kept for error reports.
	DefaultTailLines = 200

	// DefaultWaitDelay bounds how long output copying may outlive the process,
	// e.g. when a grandchild inherited the pipe.
	DefaultWaitDelay = 2 * time.Second
)

// Launcher starts a command, forwards its combined stdout and stderr line by
// line, and enforces a timeout.
type Launcher struct {
	// Out receives every output line as it arrives. Defaults to os.Stdout.
	Out io.Writer

	// Env is appended to the inherited environment.
	Env []string

	TailLines int
	WaitDelay time.Duration
}

// New returns a Launcher writing to os.Stdout.
func New() *Launcher {
	return &Launcher{
		Out:       os.Stdout,
		TailLines: DefaultTailLines,
		WaitDelay: DefaultWaitDelay,
	}
}

// Run executes argv in dir and blocks until it exits or timeout elapses.
// A zero timeout means no limit beyond ctx. Errors:
//   - RUNNER_NOT_FOUND when the executable does not exist
//   - TIMEOUT_EXCEEDED when the process was killed after timeout
//   - PROCESS_FAILED on a non-zero exit, with the exit code and output tail
func (l *Launcher) Run(ctx context.Context, argv []string, dir string, timeout time.Duration) error {
	if len(argv) == 0 {
		return apperrors.New(apperrors.CodeRunnerNotFound, "empty command")
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := newLineWriter(l.out(), l.tailLines())
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	// Same writer for both streams: exec shares one pipe and serializes writes.
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error { return cmd.Process.Kill() }
	cmd.WaitDelay = l.waitDelay()

	params := map[string]interface{}{"argv": strings.Join(argv, " "), "dir": dir}

	logger.Debug("Starting process", zap.Strings("argv", argv), zap.String("dir", dir), zap.Duration("timeout", timeout))
	start := time.Now()

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return apperrors.Wrap(err, apperrors.CodeRunnerNotFound, "executable not found").WithParams(params)
		}
		return apperrors.Wrap(err, apperrors.CodeProcessFailed, "start process").WithParams(params)
	}

	waitErr := cmd.Wait()
	out.Flush()
	params["output"] = out.Tail()

	elapsed := time.Since(start)
	switch {
	case waitErr == nil:
		logger.Debug("Process finished", zap.Strings("argv", argv), zap.Duration("elapsed", elapsed))
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case runCtx.Err() == context.DeadlineExceeded:
		params["timeout"] = timeout.String()
		return apperrors.Wrap(apperrors.ErrTimeout, apperrors.CodeTimeoutExceeded, "process killed after timeout").WithParams(params)
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// Exited cleanly; only a leftover descendant kept the pipe open.
		logger.Warn("Process output not closed after exit", zap.Strings("argv", argv), zap.Error(waitErr))
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		params["exit_code"] = exitErr.ExitCode()
		return apperrors.Wrap(waitErr, apperrors.CodeProcessFailed, "process exited with non-zero status").WithParams(params)
	}
	return apperrors.Wrap(waitErr, apperrors.CodeProcessFailed, "wait for process").WithParams(params)
}

func (l *Launcher) out() io.Writer {
	if l.Out == nil {
		return os.Stdout
	}
	return l.Out
}

func (l *Launcher) tailLines() int {
	if l.TailLines <= 0 {
		return DefaultTailLines
	}
	return l.TailLines
}

func (l *Launcher) waitDelay() time.Duration {
	if l.WaitDelay <= 0 {
		return DefaultWaitDelay
	}
	return l.WaitDelay
}
