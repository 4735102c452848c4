// Command runner is the operator tool for code-runner.
//
//	runner exec solution.cpp --input tests/1.in
//	runner token --subject judge-frontend --ttl 720h
//	runner hash-key --generate
//
// exec drives the same dispatcher as POST /run, without the HTTP layer and
// without recording history. token and hash-key mint the credentials the
// server checks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/artifact"
	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/executor/docker"
	"github.com/sakif/code-runner/internal/executor/host"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/service"
)

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "runner",
		Usage: "run programs and manage credentials for code-runner",
		Commands: []*cli.Command{
			execCommand(),
			tokenCommand(),
			hashKeyCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "build and run one source file",
		ArgsUsage: "<source file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Usage: "language tag (default: from the file extension)"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "file fed to stdin, - for this process's stdin"},
			&cli.StringFlag{Name: "sandbox", Usage: "host or docker (default: RUNNER_SANDBOX)"},
			&cli.StringFlag{Name: "stderr-policy", Usage: "strict or exit-code (default: RUNNER_STDERR_POLICY)"},
			&cli.BoolFlag{Name: "keep", Usage: "keep the job's artifacts"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log every stage"},
		},
		Action: runExec,
	}
}

func runExec(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return cli.Exit("exec needs exactly one source file", 2)
	}
	sourceFile := c.Args().First()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if v := c.String("sandbox"); v != "" {
		cfg.Sandbox = v
	}
	if v := c.String("stderr-policy"); v != "" {
		if cfg.StderrPolicy, err = executor.ParseStderrPolicy(v); err != nil {
			return err
		}
	}

	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(os.Stderr, config.LogPretty, level)

	table := language.DefaultTable()
	if cfg.LanguagesFile != "" {
		if table, err = language.LoadFile(cfg.LanguagesFile); err != nil {
			return err
		}
	}

	lang := c.String("lang")
	if lang == "" {
		lang = languageFor(sourceFile)
	}

	code, err := os.ReadFile(sourceFile)
	if err != nil {
		return err
	}
	input, err := readInput(c.String("input"))
	if err != nil {
		return err
	}

	store, err := artifact.New(cfg.BaseDir)
	if err != nil {
		return err
	}
	if err := store.Init(table.Tags()); err != nil {
		return err
	}

	var sandbox executor.Sandbox
	switch cfg.Sandbox {
	case config.SandboxHost:
		sandbox = host.New(logger)
	case config.SandboxDocker:
		dcfg := cfg.Docker
		dcfg.WorkDir = store.Base()
		dcfg.PoolSize = 1
		sb, err := docker.New(dcfg, logger)
		if err != nil {
			return err
		}
		defer sb.Close()
		sandbox = sb
	default:
		return fmt.Errorf("unknown sandbox %q", cfg.Sandbox)
	}

	runners, err := executor.BuildRegistry(table, sandbox, store, cfg.StderrPolicy, logger)
	if err != nil {
		return err
	}
	svc := service.NewRunService(store, runners, nil, service.Options{KeepArtifacts: c.Bool("keep")}, logger)

	codeText, inputText := string(code), input
	res, err := svc.Run(ctx, service.RunRequest{Language: lang, Code: &codeText, Input: &inputText})
	if err != nil {
		return reportFailure(os.Stderr, err)
	}

	fmt.Print(res.Output)
	color.New(color.FgGreen, color.Bold).Fprintf(os.Stderr, "OK")
	fmt.Fprintf(os.Stderr, " %s job %s in %s\n", res.Language, res.JobID, res.Duration.Round(time.Millisecond))
	return nil
}

// reportFailure prints the verdict and diagnostic and turns err into exit
// code 1 (execution failure) or 2 (bad request).
func reportFailure(w io.Writer, err error) error {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return err
	}

	red := color.New(color.FgRed, color.Bold)
	if errors.Is(err, apperror.ErrExecution) {
		verdict := "FAILED"
		if appErr.Stage != "" {
			verdict = strings.ToUpper(appErr.Stage) + " FAILED"
		}
		red.Fprintln(w, verdict)
		fmt.Fprintln(w, strings.TrimRight(appErr.Message, "\n"))
		return cli.Exit("", 1)
	}

	red.Fprint(w, "REJECTED")
	fmt.Fprintf(w, " %s\n", appErr.Message)
	return cli.Exit("", 2)
}

// languageFor maps a file extension to a language tag. Tags are extensions,
// so this is the extension without its dot. ".cc" and ".cxx" are the only
// aliases.
func languageFor(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "cc", "cxx":
		return string(language.CPP)
	}
	return ext
}

func readInput(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	default:
		data, err := os.ReadFile(path)
		return string(data), err
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a bearer token signed with RUNNER_JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "client name stored in the token", Required: true},
			&cli.DurationFlag{Name: "ttl", Value: auth.DefaultTokenTTL, Usage: "token lifetime"},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return cli.Exit("RUNNER_JWT_SECRET is not set", 2)
			}
			tokens, err := auth.NewTokenService(cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateWithDuration(c.String("subject"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func hashKeyCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-key",
		Usage:     "bcrypt an API key for RUNNER_API_KEY_HASHES",
		ArgsUsage: "[key]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "generate", Aliases: []string{"g"}, Usage: "generate a random key first"},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			key := c.Args().First()
			if c.Bool("generate") {
				var err error
				if key, err = auth.GenerateKey(); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("key:"), key)
			}
			if key == "" {
				return cli.Exit("pass a key or --generate", 2)
			}

			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
