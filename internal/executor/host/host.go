// Package host runs commands directly on the machine the server runs on.
//
// There is NO isolation here: the program has the server's user, filesystem
// and network. Use it for development and trusted callers. For anything
// else, use the docker sandbox.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sakif/code-runner/internal/executor"
)

// Sandbox implements executor.Sandbox with os/exec.
type Sandbox struct {
	logger *slog.Logger
}

// New creates a host sandbox.
func New(logger *slog.Logger) *Sandbox {
	return &Sandbox{logger: logger}
}

var _ executor.Sandbox = (*Sandbox)(nil)

// Run starts the command in its own process group, feeds StdinPath to it and
// waits for it to exit. If ctx is canceled first, the whole group is killed so
// that grandchildren (a shell's children, a JVM's helpers) die with it.
func (s *Sandbox) Run(ctx context.Context, c executor.Command) (*executor.ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("host: %s not started: %w", c.Path, err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if c.StdinPath != "" {
		stdin, err := os.Open(c.StdinPath)
		if err != nil {
			return nil, fmt.Errorf("host: opening stdin: %w", err)
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("host: starting %s: %w", c.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		s.logger.Warn("process killed",
			slog.String("stage", string(c.Stage)),
			slog.String("program", c.Path),
			slog.String("reason", ctx.Err().Error()),
		)
		return nil, fmt.Errorf("host: %s canceled: %w", c.Path, ctx.Err())
	case err = <-done:
	}

	res := &executor.ProcessResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("host: waiting for %s: %w", c.Path, err)
		}
		res.ExitCode = exitErr.ExitCode()
		// ExitCode is -1 for a signaled process; report it the way a shell does.
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			res.Signal = status.Signal().String()
			res.ExitCode = 128 + int(status.Signal())
		}
	}
	res.Duration = time.Since(start)

	return res, nil
}
