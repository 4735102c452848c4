package executor

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/sakif/code-runner/internal/artifact"
	"github.com/sakif/code-runner/internal/language"
)

// OutputLocator tells a Runner where compiled binaries go.
// *artifact.Store satisfies it.
type OutputLocator interface {
	OutputDir(lang language.Language) string
	OutputPath(lang language.Language, sourcePath, suffix string) string
}

// Runner is the generic recipe-driven Executor.
//
// Compiled languages go through two sequential stages: build writes a binary
// named after the source's job id into the language's output directory, then
// run executes it from that directory. Interpreted languages only run.
type Runner struct {
	lang    language.Language
	recipe  language.Recipe
	sandbox Sandbox
	outputs OutputLocator
	policy  StderrPolicy
	logger  *slog.Logger
}

// NewRunner builds the Executor for one language.
func NewRunner(lang language.Language, recipe language.Recipe, sandbox Sandbox, outputs OutputLocator, policy StderrPolicy, logger *slog.Logger) *Runner {
	return &Runner{
		lang:    lang,
		recipe:  recipe,
		sandbox: sandbox,
		outputs: outputs,
		policy:  policy,
		logger:  logger.With(slog.String("language", string(lang))),
	}
}

var _ Executor = (*Runner)(nil)

// Execute builds (if needed) and runs the source with inputPath on stdin.
func (r *Runner) Execute(ctx context.Context, sourcePath, inputPath string) (string, error) {
	outputDir := r.outputs.OutputDir(r.lang)
	vars := map[string]string{
		language.PlaceholderSource:    sourcePath,
		language.PlaceholderJobID:     artifact.JobID(sourcePath),
		language.PlaceholderOutputDir: outputDir,
	}
	dir := filepath.Dir(sourcePath)

	if r.recipe.Compiled() {
		vars[language.PlaceholderOutput] = r.outputs.OutputPath(r.lang, sourcePath, r.recipe.OutputSuffix)

		if _, err := r.stage(ctx, StageBuild, r.recipe.Build, vars, "", dir); err != nil {
			return "", err
		}
		dir = outputDir
	}

	res, err := r.stage(ctx, StageRun, r.recipe.Run, vars, inputPath, dir)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (r *Runner) stage(ctx context.Context, stage Stage, template []string, vars map[string]string, stdin, dir string) (*ProcessResult, error) {
	argv := language.Expand(template, vars)
	cmd := Command{
		Path:      argv[0],
		Args:      argv[1:],
		Dir:       dir,
		StdinPath: stdin,
		Stage:     stage,
	}

	res, err := r.sandbox.Run(ctx, cmd)
	if err != nil {
		r.logger.Warn("process could not be run",
			slog.String("stage", string(stage)),
			slog.String("program", cmd.Path),
			slog.String("error", err.Error()),
		)
		return nil, &StageError{Stage: stage, Diagnostic: err.Error(), ExitCode: -1, Err: err}
	}

	r.logger.Debug("stage finished",
		slog.String("stage", string(stage)),
		slog.Int("exitCode", res.ExitCode),
		slog.Int("stderrBytes", len(res.Stderr)),
		slog.Duration("duration", res.Duration),
	)

	if r.policy.Failed(res) {
		return nil, &StageError{Stage: stage, Diagnostic: diagnostic(res), ExitCode: res.ExitCode}
	}
	return res, nil
}
