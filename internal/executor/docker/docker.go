package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/code-runner/internal/executor"
)

// TimeoutExitCode is reported when Config.Timeout expires (like unix timeout).
const TimeoutExitCode = 124

// stdinScript redirects the file named by $RUNNER_STDIN and replaces the
// shell with the real program, so "$@" is passed through untouched.
const stdinScript = `exec "$@" < "$RUNNER_STDIN"`

// Sandbox implements executor.Sandbox by exec-ing commands inside
// pre-warmed, network-less containers.
//
// Every command gets a fresh container which is removed afterwards. The build
// and run stages of one job can therefore land in different containers; that
// works because both see the same bind-mounted WorkDir.
type Sandbox struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New creates a new Docker Sandbox and starts its container pool.
func New(cfg Config, logger *slog.Logger) (*Sandbox, error) {
	if cfg.WorkDir == "" {
		return nil, errors.New("docker: WorkDir is required")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if cfg.Pull {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		logger.Info("pulling docker image", slog.String("image", cfg.Image))
		reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("failed to pull image: %w", err)
		}
		defer reader.Close()
		// Read everything to block until the pull is complete
		_, _ = io.Copy(io.Discard, reader)
		logger.Info("docker image is ready")
	}

	sb := &Sandbox{
		cli:    cli,
		config: cfg,
		logger: logger,
	}

	sb.pool = NewPool(cli, cfg, logger)
	sb.pool.Start()

	return sb, nil
}

var _ executor.Sandbox = (*Sandbox)(nil)

// Close shuts down the pool and docker client.
func (s *Sandbox) Close() error {
	s.pool.Stop()
	return s.cli.Close()
}

// Run executes one command in a container from the pool.
func (s *Sandbox) Run(ctx context.Context, c executor.Command) (*executor.ProcessResult, error) {
	start := time.Now()

	containerID, err := s.pool.GetContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}

	defer s.pool.removeContainer(containerID)

	execCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	stdin := c.StdinPath
	if stdin == "" {
		stdin = "/dev/null"
	}

	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   c.Dir,
		Env:          []string{"RUNNER_STDIN=" + stdin},
		Cmd:          append([]string{"sh", "-c", stdinScript, "sh", c.Path}, c.Args...),
	}

	execResp, err := s.cli.ContainerExecCreate(execCtx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := s.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer

	done := make(chan struct{})
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	var exitCode int

	select {
	case <-done:
		inspectResp, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect exec: %w", err)
		}
		exitCode = inspectResp.ExitCode
	case <-execCtx.Done():
		// Closing the hijacked connection unblocks StdCopy; the deferred
		// ContainerRemove kills whatever is still running.
		attachResp.Close()
		<-done
		if ctx.Err() != nil {
			return nil, fmt.Errorf("docker: %s canceled: %w", c.Path, ctx.Err())
		}
		exitCode = TimeoutExitCode
		stderr.WriteString("\nExecution timed out.\n")
	}

	s.logger.Debug("docker exec finished",
		slog.String("stage", string(c.Stage)),
		slog.String("container", containerID),
		slog.Int("exitCode", exitCode),
	)

	return &executor.ProcessResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}
