// Package executor turns a source file and an input file into captured output.
//
// TWO INTERFACES:
//   - Executor is what the rest of the app sees: Execute(source, input) → stdout.
//     There is one Executor per language, all built from the same Runner type.
//   - Sandbox is what an Executor needs: something that can run one command with
//     stdin redirected from a file and report what happened. The sandbox decides
//     HOW the process is confined (not at all, a container, ...). Swapping it
//     never touches the build/run logic.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stage identifies which half of the pipeline a command belongs to.
type Stage string

const (
	StageBuild Stage = "build"
	StageRun   Stage = "run"
)

// Command is a single process invocation.
type Command struct {
	// Path is the program to run (looked up in PATH if not absolute).
	Path string
	// Args are the arguments after the program name.
	Args []string
	// Dir is the working directory.
	Dir string
	// StdinPath is redirected to standard input. Empty means no input.
	StdinPath string
	// Stage is informational (logging, sandbox bookkeeping).
	Stage Stage
}

// ProcessResult is everything observed about a finished process.
type ProcessResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Signal names the signal that killed the process ("segmentation
	// fault"), empty when it exited on its own.
	Signal   string
	Duration time.Duration
}

// Sandbox runs commands.
//
// A returned error means the process could not be started or observed at all
// (binary missing, context canceled, daemon unreachable). A process that ran
// and failed is NOT an error: it is a ProcessResult with a non-zero ExitCode.
type Sandbox interface {
	Run(ctx context.Context, cmd Command) (*ProcessResult, error)
}

// Executor runs an already-materialized job for one language.
// On success it returns the program's raw standard output.
type Executor interface {
	Execute(ctx context.Context, sourcePath, inputPath string) (string, error)
}

// StageError is returned when the build or run stage fails. Diagnostic holds
// the text the caller should see: compiler errors, runtime stderr, or the
// spawn error message.
type StageError struct {
	Stage      Stage
	Diagnostic string
	ExitCode   int
	Err        error // set when the process could not be spawned
}

func (e *StageError) Error() string {
	return e.Diagnostic
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StderrPolicy decides whether a finished process counts as failed.
type StderrPolicy string

const (
	// PolicyStrict fails on a non-zero exit OR any output on stderr.
	PolicyStrict StderrPolicy = "strict"
	// PolicyExitCode fails only on a non-zero exit.
	PolicyExitCode StderrPolicy = "exit-code"
)

// ParseStderrPolicy validates a policy name. Empty means strict.
func ParseStderrPolicy(s string) (StderrPolicy, error) {
	switch StderrPolicy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyExitCode:
		return PolicyExitCode, nil
	default:
		return "", fmt.Errorf("executor: unknown stderr policy %q (want %q or %q)", s, PolicyStrict, PolicyExitCode)
	}
}

// Failed applies the policy to a result.
func (p StderrPolicy) Failed(res *ProcessResult) bool {
	if res.ExitCode != 0 {
		return true
	}
	return p != PolicyExitCode && res.Stderr != ""
}

// diagnostic picks the text that best explains a failure.
// A crash is reported even when the program printed nothing.
func diagnostic(res *ProcessResult) string {
	switch {
	case res.Stderr != "" && res.Signal != "":
		return strings.TrimRight(res.Stderr, "\n") + "\nsignal: " + res.Signal
	case res.Stderr != "":
		return res.Stderr
	case res.Signal != "":
		return "signal: " + res.Signal
	case res.Stdout != "":
		return res.Stdout
	default:
		return fmt.Sprintf("exit status %d", res.ExitCode)
	}
}
