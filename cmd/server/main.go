// Package main is the entry point for the code-runner HTTP server.
//
// main is the composition root: it reads the configuration, builds every
// collaborator (artifact store, sandbox, language runners, history database,
// dispatcher, auth) and hands them to the server. All actual logic lives in
// the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/code-runner/internal/artifact"
	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/executor/docker"
	"github.com/sakif/code-runner/internal/executor/host"
	"github.com/sakif/code-runner/internal/language"
	sqliteRepo "github.com/sakif/code-runner/internal/repository/sqlite"
	"github.com/sakif/code-runner/internal/server"
	"github.com/sakif/code-runner/internal/service"
)

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === LANGUAGES ===
	table := language.DefaultTable()
	if cfg.LanguagesFile != "" {
		var err error
		if table, err = language.LoadFile(cfg.LanguagesFile); err != nil {
			return err
		}
		logger.Info("language overrides loaded", slog.String("file", cfg.LanguagesFile))
	}

	// === ARTIFACT DIRECTORIES ===
	// Created once, before the first request.
	store, err := artifact.New(cfg.BaseDir)
	if err != nil {
		return err
	}
	if err := store.Init(table.Tags()); err != nil {
		return err
	}

	// === SANDBOX ===
	var sandbox executor.Sandbox
	switch cfg.Sandbox {
	case config.SandboxDocker:
		dcfg := cfg.Docker
		dcfg.WorkDir = store.Base()
		sb, err := docker.New(dcfg, logger)
		if err != nil {
			return fmt.Errorf("starting docker sandbox: %w", err)
		}
		defer sb.Close()
		sandbox = sb
	default:
		sandbox = host.New(logger)
	}

	runners, err := executor.BuildRegistry(table, sandbox, store, cfg.StderrPolicy, logger)
	if err != nil {
		return err
	}

	// === HISTORY ===
	deps := server.Deps{Languages: runners.Languages()}

	var svc *service.RunService
	opts := service.Options{
		KeepArtifacts: cfg.KeepArtifacts,
		MaxConcurrent: cfg.MaxConcurrent,
	}
	if cfg.DBPath != "" {
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		deps.History = db
		svc = service.NewRunService(store, runners, db, opts, logger)
	} else {
		logger.Warn("run history disabled")
		svc = service.NewRunService(store, runners, nil, opts, logger)
	}
	deps.Runs = svc

	// === AUTH ===
	if cfg.JWTSecret != "" {
		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			return err
		}
		deps.Tokens = tokens
	}
	if len(cfg.APIKeyHashes) > 0 {
		keys, err := auth.NewKeyRing(cfg.APIKeyHashes)
		if err != nil {
			return err
		}
		deps.Keys = keys
	}
	if deps.Tokens != nil && deps.Keys != nil {
		deps.Issuer = service.NewAuthService(deps.Keys, deps.Tokens, logger)
	}
	if !cfg.AuthEnabled() {
		logger.Warn("no RUNNER_JWT_SECRET or RUNNER_API_KEY_HASHES set; job routes are unauthenticated")
	}

	if cfg.KeepArtifacts && cfg.ArtifactTTL > 0 {
		go sweepArtifacts(ctx, store, cfg.ArtifactTTL, logger)
	}

	logger.Info("code runner ready",
		slog.String("sandbox", cfg.Sandbox),
		slog.String("stderrPolicy", string(cfg.StderrPolicy)),
		slog.String("baseDir", store.Base()),
		slog.Any("languages", deps.Languages),
	)

	srv := server.New(server.Config{Port: cfg.Port}, deps, logger)
	return srv.Start(ctx)
}

// sweepArtifacts removes kept artifacts older than ttl, checking every ttl/4
// (at most hourly).
func sweepArtifacts(ctx context.Context, store *artifact.Store, ttl time.Duration, logger *slog.Logger) {
	interval := min(max(ttl/4, time.Second), time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Sweep(now.Add(-ttl))
			if err != nil {
				logger.Warn("artifact sweep failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				logger.Info("artifacts swept", slog.Int("removed", removed))
			}
		}
	}
}
