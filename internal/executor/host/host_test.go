package host_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/artifact"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/executor/host"
	"github.com/sakif/code-runner/internal/language"
)

func newSandbox() *host.Sandbox {
	return host.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_StdinIsRedirected(t *testing.T) {
	sb := newSandbox()
	in := writeFile(t, "5 7\n")

	res, err := sb.Run(context.Background(), executor.Command{Path: "cat", StdinPath: in})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "5 7\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRun_NoStdin(t *testing.T) {
	sb := newSandbox()

	res, err := sb.Run(context.Background(), executor.Command{Path: "cat"})
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
}

func TestRun_CapturesStderrAndExitCode(t *testing.T) {
	sb := newSandbox()

	res, err := sb.Run(context.Background(), executor.Command{
		Path: "sh",
		Args: []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	require.NoError(t, err, "a failing program is a result, not an error")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestRun_SignalIsReported(t *testing.T) {
	sb := newSandbox()

	res, err := sb.Run(context.Background(), executor.Command{
		Path: "sh",
		Args: []string{"-c", "kill -SEGV $$"},
	})
	require.NoError(t, err, "a crashed program is a result, not an error")
	assert.Equal(t, "segmentation fault", res.Signal)
	assert.Equal(t, 128+11, res.ExitCode)
	assert.True(t, executor.PolicyExitCode.Failed(res))
}

func TestRun_WorkingDirectory(t *testing.T) {
	sb := newSandbox()
	dir := t.TempDir()

	res, err := sb.Run(context.Background(), executor.Command{Path: "pwd", Dir: dir})
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(res.Stdout[:len(res.Stdout)-1])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRun_MissingProgram(t *testing.T) {
	sb := newSandbox()

	_, err := sb.Run(context.Background(), executor.Command{Path: "definitely-not-a-real-program-xyz"})
	assert.Error(t, err)
}

func TestRun_MissingStdinFile(t *testing.T) {
	sb := newSandbox()

	_, err := sb.Run(context.Background(), executor.Command{Path: "cat", StdinPath: "/nonexistent/stdin.txt"})
	assert.Error(t, err)
}

func TestRun_CancelKillsProcessGroup(t *testing.T) {
	sb := newSandbox()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sb.Run(ctx, executor.Command{Path: "sh", Args: []string{"-c", "sleep 30 & sleep 30"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

// ============================================================================
// END-TO-END WITH REAL TOOLCHAINS
// ============================================================================

// Each case is skipped when its toolchain is not installed.
func TestToolchains(t *testing.T) {
	tests := []struct {
		lang   language.Language
		tool   string
		source string
	}{
		{language.CPP, "g++", "#include <iostream>\nint main(){int a,b;std::cin>>a>>b;std::cout<<a+b<<std::endl;}"},
		{language.Python, "python3", "a, b = map(int, input().split())\nprint(a + b)"},
		{language.JavaScript, "node", "const [a, b] = require('fs').readFileSync(0, 'utf8').trim().split(' ').map(Number);\nconsole.log(a + b);"},
		{language.Go, "go", "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tvar a, b int\n\tfmt.Scan(&a, &b)\n\tfmt.Println(a + b)\n}"},
		{language.Java, "java", "import java.util.Scanner;\npublic class Main {\n  public static void main(String[] args) {\n    Scanner s = new Scanner(System.in);\n    System.out.println(s.nextInt() + s.nextInt());\n  }\n}"},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			if _, err := exec.LookPath(tt.tool); err != nil {
				t.Skipf("%s not installed", tt.tool)
			}

			store, err := artifact.New(t.TempDir())
			require.NoError(t, err)
			require.NoError(t, store.Init(language.DefaultTable().Tags()))

			reg, err := executor.BuildRegistry(language.DefaultTable(), newSandbox(), store, executor.PolicyExitCode, logger)
			require.NoError(t, err)
			runner, ok := reg.Lookup(tt.lang)
			require.True(t, ok)

			src, err := store.WriteSource(tt.lang, tt.source)
			require.NoError(t, err)
			in, err := store.WriteInput("5 7")
			require.NoError(t, err)

			out, err := runner.Execute(context.Background(), src, in)
			require.NoError(t, err)
			assert.Equal(t, "12\n", out)
		})
	}
}
