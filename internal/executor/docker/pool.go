package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	poolLabel = "code-runner.pool"

	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Pool keeps PoolSize idle containers ready. Each one is handed out once and
// removed by the caller; handing one out wakes the filler to replace it.
type Pool struct {
	cli    *client.Client
	config Config
	logger *slog.Logger

	ready  chan string
	refill chan struct{}
	done   chan struct{}

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates an idle pool. A PoolSize below one is raised to one.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Pool{
		cli:    cli,
		config: cfg,
		logger: logger,
		ready:  make(chan string, cfg.PoolSize),
		refill: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the filler goroutine.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting container pool", slog.Int("size", p.config.PoolSize), slog.String("image", p.config.Image))
		p.wg.Add(1)
		go p.fill()
	})
}

// Stop halts the filler and removes every idle container. Containers already
// handed out belong to their callers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.ready:
				p.removeContainer(id)
			default:
				p.logger.Info("container pool stopped")
				return
			}
		}
	})
}

// GetContainer takes an idle container, waiting until one is ready or ctx ends.
func (p *Pool) GetContainer(ctx context.Context) (string, error) {
	select {
	case id := <-p.ready:
		p.wake()
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("docker: pool is stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Pool) wake() {
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

// fill tops the pool up whenever a container is taken. Creation failures
// (daemon down, image missing) back off exponentially instead of spinning.
func (p *Pool) fill() {
	defer p.wg.Done()

	backoff := minBackoff
	for {
		for len(p.ready) < cap(p.ready) {
			id, err := p.createContainer()
			if err != nil {
				p.logger.Error("failed to create pool container",
					slog.String("error", err.Error()),
					slog.Duration("retryIn", backoff),
				)
				select {
				case <-time.After(backoff):
				case <-p.done:
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = minBackoff

			select {
			case p.ready <- id:
			case <-p.done:
				p.removeContainer(id)
				return
			}
		}

		select {
		case <-p.refill:
		case <-p.done:
			return
		}
	}
}

// createContainer starts an idle `sleep infinity` container: no network, a
// read-only root, the artifact directory mounted read-write at its host path.
func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		Binds: []string{p.config.WorkDir + ":" + p.config.WorkDir + ":rw"},
		// Compilers need scratch space, the go toolchain its build cache.
		Tmpfs: map[string]string{"/tmp": "rw,exec,size=256m"},
	}

	cfg := &container.Config{
		Image:  p.config.Image,
		Cmd:    []string{"sleep", "infinity"},
		User:   p.config.User,
		Env:    []string{"HOME=/tmp", "GOCACHE=/tmp/go-build", "GOTMPDIR=/tmp"},
		Labels: map[string]string{poolLabel: "true"},
	}

	resp, err := p.cli.ContainerCreate(ctx, cfg, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker: creating container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.removeContainer(resp.ID)
		return "", fmt.Errorf("docker: starting container: %w", err)
	}

	p.logger.Debug("pool container ready", slog.String("id", resp.ID))
	return resp.ID, nil
}

func (p *Pool) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
