package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/language"
)

// fakeSandbox records every command and replays scripted results per stage.
type fakeSandbox struct {
	calls   []Command
	results map[Stage]*ProcessResult
	errs    map[Stage]error
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		results: make(map[Stage]*ProcessResult),
		errs:    make(map[Stage]error),
	}
}

func (f *fakeSandbox) Run(_ context.Context, cmd Command) (*ProcessResult, error) {
	f.calls = append(f.calls, cmd)
	if err := f.errs[cmd.Stage]; err != nil {
		return nil, err
	}
	if res, ok := f.results[cmd.Stage]; ok {
		return res, nil
	}
	return &ProcessResult{}, nil
}

type fakeOutputs struct{ base string }

func (o fakeOutputs) OutputDir(lang language.Language) string {
	return filepath.Join(o.base, "outputs", string(lang))
}

func (o fakeOutputs) OutputPath(lang language.Language, sourcePath, suffix string) string {
	name := filepath.Base(sourcePath)
	name = name[:len(name)-len(filepath.Ext(name))]
	return filepath.Join(o.OutputDir(lang), name+suffix)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, lang language.Language, sb Sandbox, policy StderrPolicy) *Runner {
	t.Helper()
	recipe, ok := language.DefaultTable().Lookup(lang)
	require.True(t, ok)
	return NewRunner(lang, recipe, sb, fakeOutputs{base: "/data"}, policy, discardLogger())
}

// ============================================================================
// COMPILED LANGUAGES
// ============================================================================

func TestRunner_CompiledBuildsThenRuns(t *testing.T) {
	sb := newFakeSandbox()
	sb.results[StageRun] = &ProcessResult{Stdout: "hello\n"}
	r := newTestRunner(t, language.CPP, sb, PolicyStrict)

	out, err := r.Execute(context.Background(), "/data/codes/job1.cpp", "/data/inputs/in1.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	require.Len(t, sb.calls, 2)

	build := sb.calls[0]
	assert.Equal(t, StageBuild, build.Stage)
	assert.Equal(t, "g++", build.Path)
	assert.Equal(t, []string{"/data/codes/job1.cpp", "-o", "/data/outputs/cpp/job1.out"}, build.Args)
	assert.Empty(t, build.StdinPath, "the build stage gets no stdin")

	run := sb.calls[1]
	assert.Equal(t, StageRun, run.Stage)
	assert.Equal(t, "/data/outputs/cpp/job1.out", run.Path)
	assert.Empty(t, run.Args)
	assert.Equal(t, "/data/inputs/in1.txt", run.StdinPath)
	assert.Equal(t, "/data/outputs/cpp", run.Dir, "binaries run from the output directory")
}

func TestRunner_GoBinaryHasNoSuffix(t *testing.T) {
	sb := newFakeSandbox()
	r := newTestRunner(t, language.Go, sb, PolicyStrict)

	_, err := r.Execute(context.Background(), "/data/codes/job2.go", "/data/inputs/in2.txt")
	require.NoError(t, err)

	require.Len(t, sb.calls, 2)
	assert.Equal(t, []string{"build", "-o", "/data/outputs/go/job2", "/data/codes/job2.go"}, sb.calls[0].Args)
	assert.Equal(t, "/data/outputs/go/job2", sb.calls[1].Path)
}

func TestRunner_BuildFailureSkipsRun(t *testing.T) {
	sb := newFakeSandbox()
	sb.results[StageBuild] = &ProcessResult{Stderr: "job.cpp:1:1: error: expected ';'", ExitCode: 1}
	r := newTestRunner(t, language.CPP, sb, PolicyStrict)

	out, err := r.Execute(context.Background(), "/data/codes/job.cpp", "/data/inputs/in.txt")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Len(t, sb.calls, 1, "run stage must not start after a failed build")

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageBuild, stageErr.Stage)
	assert.Equal(t, 1, stageErr.ExitCode)
	assert.Contains(t, stageErr.Diagnostic, "expected ';'")
}

func TestRunner_BuildWarningsFailUnderStrict(t *testing.T) {
	sb := newFakeSandbox()
	sb.results[StageBuild] = &ProcessResult{Stderr: "warning: unused variable"}
	r := newTestRunner(t, language.CPP, sb, PolicyStrict)

	_, err := r.Execute(context.Background(), "/data/codes/job.cpp", "/data/inputs/in.txt")
	require.Error(t, err)
	assert.Len(t, sb.calls, 1)
}

// ============================================================================
// INTERPRETED LANGUAGES
// ============================================================================

func TestRunner_InterpretedRunsOnce(t *testing.T) {
	tests := []struct {
		lang    language.Language
		program string
	}{
		{language.Python, "python3"},
		{language.JavaScript, "node"},
		{language.Java, "java"},
	}

	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			sb := newFakeSandbox()
			sb.results[StageRun] = &ProcessResult{Stdout: "42\n"}
			r := newTestRunner(t, tt.lang, sb, PolicyStrict)

			src := "/data/codes/abc." + string(tt.lang)
			out, err := r.Execute(context.Background(), src, "/data/inputs/x.txt")
			require.NoError(t, err)
			assert.Equal(t, "42\n", out)

			require.Len(t, sb.calls, 1)
			assert.Equal(t, tt.program, sb.calls[0].Path)
			assert.Equal(t, []string{src}, sb.calls[0].Args)
			assert.Equal(t, "/data/codes", sb.calls[0].Dir)
			assert.Equal(t, "/data/inputs/x.txt", sb.calls[0].StdinPath)
		})
	}
}

func TestRunner_OutputIsRaw(t *testing.T) {
	sb := newFakeSandbox()
	sb.results[StageRun] = &ProcessResult{Stdout: "  spaced\n\n"}
	r := newTestRunner(t, language.Python, sb, PolicyStrict)

	out, err := r.Execute(context.Background(), "/data/codes/a.py", "/data/inputs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "  spaced\n\n", out)
}

// ============================================================================
// FAILURE POLICY
// ============================================================================

func TestRunner_StderrPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  StderrPolicy
		result  ProcessResult
		wantErr bool
		wantMsg string
	}{
		{"strict stderr with zero exit fails", PolicyStrict, ProcessResult{Stdout: "1\n", Stderr: "debug"}, true, "debug"},
		{"exit-code stderr with zero exit succeeds", PolicyExitCode, ProcessResult{Stdout: "1\n", Stderr: "debug"}, false, ""},
		{"exit-code non-zero exit fails", PolicyExitCode, ProcessResult{Stderr: "Traceback", ExitCode: 1}, true, "Traceback"},
		{"non-zero exit without stderr uses stdout", PolicyStrict, ProcessResult{Stdout: "partial", ExitCode: 3}, true, "partial"},
		{"silent non-zero exit", PolicyStrict, ProcessResult{ExitCode: 7}, true, "exit status 7"},
		{"crash without output names the signal", PolicyStrict, ProcessResult{Stdout: "partial", ExitCode: 139, Signal: "segmentation fault"}, true, "signal: segmentation fault"},
		{"crash after stderr keeps both", PolicyExitCode, ProcessResult{Stderr: "a.out: assertion failed\n", ExitCode: 134, Signal: "aborted"}, true, "a.out: assertion failed\nsignal: aborted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := newFakeSandbox()
			res := tt.result
			sb.results[StageRun] = &res
			r := newTestRunner(t, language.Python, sb, tt.policy)

			out, err := r.Execute(context.Background(), "/data/codes/a.py", "/data/inputs/a.txt")
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.result.Stdout, out)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestRunner_SpawnFailure(t *testing.T) {
	sb := newFakeSandbox()
	spawnErr := errors.New(`exec: "python3": executable file not found in $PATH`)
	sb.errs[StageRun] = spawnErr
	r := newTestRunner(t, language.Python, sb, PolicyStrict)

	_, err := r.Execute(context.Background(), "/data/codes/a.py", "/data/inputs/a.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, spawnErr)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageRun, stageErr.Stage)
	assert.Contains(t, stageErr.Diagnostic, "executable file not found")
}

func TestParseStderrPolicy(t *testing.T) {
	p, err := ParseStderrPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	p, err = ParseStderrPolicy("exit-code")
	require.NoError(t, err)
	assert.Equal(t, PolicyExitCode, p)

	_, err = ParseStderrPolicy("lenient")
	assert.Error(t, err)
}
