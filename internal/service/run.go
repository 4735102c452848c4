// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, orchestrates, records history
//	Executor / Repository    → runs processes / reads and writes the database
//
// The service never sees HTTP. The same RunService backs the HTTP endpoint and
// the command-line tool.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/artifact"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ArtifactStore is the part of *artifact.Store the dispatcher uses.
type ArtifactStore interface {
	WriteSource(lang language.Language, sourceText string) (string, error)
	WriteInput(stdinText string) (string, error)
	JobOutputs(lang language.Language, sourcePath string) ([]string, error)
	Release(paths ...string) error
}

// ExecutorLookup resolves a language to its Executor. *executor.Registry
// satisfies it.
type ExecutorLookup interface {
	Lookup(lang language.Language) (executor.Executor, bool)
}

// RunRequest is one job as submitted. Code and Input are pointers so that
// "absent" can be told apart from "empty".
type RunRequest struct {
	Language string
	Code     *string
	Input    *string
}

// RunResult is a successful job.
type RunResult struct {
	RunID    string
	JobID    string
	Language language.Language
	Output   string
	Duration time.Duration
}

// Options tune a RunService.
type Options struct {
	// KeepArtifacts skips the per-job release of source, input and binary.
	KeepArtifacts bool
	// MaxConcurrent caps jobs running at once. Zero means no cap.
	MaxConcurrent int64
}

// RunService is the execution dispatcher.
type RunService struct {
	store     ArtifactStore
	executors ExecutorLookup
	history   repository.RunRepository
	opts      Options
	slots     *semaphore.Weighted
	logger    *slog.Logger
}

// NewRunService wires the dispatcher. history may be nil, in which case no
// runs are recorded and Get/List report not found / empty.
func NewRunService(store ArtifactStore, executors ExecutorLookup, history repository.RunRepository, opts Options, logger *slog.Logger) *RunService {
	s := &RunService{
		store:     store,
		executors: executors,
		history:   history,
		opts:      opts,
		logger:    logger,
	}
	if opts.MaxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return s
}

// Run validates the request, materializes the job, executes it and returns
// the raw stdout.
//
// Validation happens before anything touches the disk: a rejected request
// leaves no artifacts and spawns no process. Every other exit path releases
// the job's files (unless KeepArtifacts is set).
func (s *RunService) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	lang, exec, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("service: waiting for a run slot: %w", err)
		}
		defer s.slots.Release(1)
	}

	start := time.Now()

	sourcePath, inputPath, err := s.materialize(ctx, lang, *req.Code, *req.Input)
	defer s.release(lang, sourcePath, inputPath)
	if err != nil {
		s.logger.Error("failed to write job artifacts", slog.String("error", err.Error()))
		return nil, err
	}

	jobID := artifact.JobID(sourcePath)
	logger := s.logger.With(slog.String("jobId", jobID), slog.String("language", string(lang)))
	logger.Info("job started")

	output, execErr := exec.Execute(ctx, sourcePath, inputPath)
	elapsed := time.Since(start)

	run := &model.Run{
		JobID:       jobID,
		Language:    string(lang),
		Status:      model.RunOK,
		DurationMs:  elapsed.Milliseconds(),
		CodeBytes:   len(*req.Code),
		OutputBytes: len(output),
	}

	if execErr != nil {
		appErr := toAppError(execErr)
		run.Status = model.RunFailed
		run.Stage = appErr.Stage
		run.Error = appErr.Message
		s.record(ctx, logger, run)

		logger.Info("job failed",
			slog.String("stage", appErr.Stage),
			slog.Duration("duration", elapsed),
		)
		return nil, appErr
	}

	s.record(ctx, logger, run)
	logger.Info("job finished",
		slog.Int("outputBytes", len(output)),
		slog.Duration("duration", elapsed),
	)

	return &RunResult{
		RunID:    run.ID,
		JobID:    jobID,
		Language: lang,
		Output:   output,
		Duration: elapsed,
	}, nil
}

func (s *RunService) validate(req RunRequest) (language.Language, executor.Executor, error) {
	if req.Code == nil || *req.Code == "" {
		return "", nil, apperror.ValidationFailed("code", "code is required")
	}
	if req.Input == nil {
		return "", nil, apperror.ValidationFailed("input", "input is required")
	}

	lang := language.Language(req.Language)
	if lang == "" {
		lang = language.Default
	}

	exec, ok := s.executors.Lookup(lang)
	if !ok {
		return "", nil, apperror.Unsupported(string(lang))
	}
	return lang, exec, nil
}

// materialize writes source and input concurrently. The two files have
// independent ids and do not depend on each other. Paths that were written
// are returned even on error so they can be released.
func (s *RunService) materialize(ctx context.Context, lang language.Language, code, input string) (string, string, error) {
	var sourcePath, inputPath string

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourcePath, err = s.store.WriteSource(lang, code)
		return err
	})
	g.Go(func() error {
		var err error
		inputPath, err = s.store.WriteInput(input)
		return err
	})

	if err := g.Wait(); err != nil {
		return sourcePath, inputPath, fmt.Errorf("service: materializing job: %w", err)
	}
	return sourcePath, inputPath, nil
}

func (s *RunService) release(lang language.Language, sourcePath, inputPath string) {
	if s.opts.KeepArtifacts {
		return
	}

	paths := []string{sourcePath, inputPath}
	if sourcePath != "" {
		outputs, err := s.store.JobOutputs(lang, sourcePath)
		if err != nil {
			s.logger.Warn("failed to list job outputs", slog.String("error", err.Error()))
		}
		paths = append(paths, outputs...)
	}

	if err := s.store.Release(paths...); err != nil {
		s.logger.Warn("failed to release job artifacts", slog.String("error", err.Error()))
	}
}

// record stores a history entry. A history failure never fails the job.
func (s *RunService) record(ctx context.Context, logger *slog.Logger, run *model.Run) {
	if s.history == nil {
		return
	}
	// The job already finished; a client that just disconnected should not
	// lose its history entry.
	if err := s.history.Create(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run", slog.String("error", err.Error()))
	}
}

// toAppError turns a Runner failure into the error the caller sees. The
// diagnostic is passed through verbatim.
func toAppError(err error) *apperror.AppError {
	var stageErr *executor.StageError
	if errors.As(err, &stageErr) {
		return apperror.ExecutionFailed(string(stageErr.Stage), stageErr.Diagnostic, err)
	}
	return apperror.ExecutionFailed("", err.Error(), err)
}

// Get returns one history entry.
func (s *RunService) Get(ctx context.Context, id string) (*model.Run, error) {
	if s.history == nil {
		return nil, apperror.NotFound("run", id)
	}
	return s.history.GetByID(ctx, id)
}

// List returns history entries newest first. limit is clamped to 1..100.
func (s *RunService) List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Language != "" && !s.supported(opts.Language) {
		return nil, apperror.Unsupported(opts.Language)
	}
	if opts.Status != "" && opts.Status != model.RunOK && opts.Status != model.RunFailed {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("status must be %q or %q", model.RunOK, model.RunFailed))
	}

	if s.history == nil {
		return []model.Run{}, nil
	}
	return s.history.List(ctx, opts)
}

func (s *RunService) supported(lang string) bool {
	_, ok := s.executors.Lookup(language.Language(lang))
	return ok
}
