// Package config loads the server configuration from environment variables.
//
// Every setting has a default, so an empty environment starts a working
// server on :8080 with the host sandbox. A value that is set but cannot be
// parsed is an error: a typo in RUNNER_SANDBOX should stop the process, not
// silently fall back to the default.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/executor/docker"
)

// Sandbox names.
const (
	SandboxHost   = "host"
	SandboxDocker = "docker"
)

// Log formats.
const (
	LogText   = "text"
	LogJSON   = "json"
	LogPretty = "pretty"
)

// HistoryOff as RUNNER_DB_PATH disables run history.
const HistoryOff = "off"

// Config is the fully parsed server configuration.
type Config struct {
	Port int

	// BaseDir holds codes/, inputs/ and outputs/.
	BaseDir string
	// DBPath is the run history database. Empty disables history.
	DBPath string

	Sandbox       string
	StderrPolicy  executor.StderrPolicy
	KeepArtifacts bool
	// ArtifactTTL enables a periodic sweep of artifacts older than this.
	// Only meaningful together with KeepArtifacts.
	ArtifactTTL   time.Duration
	MaxConcurrent int64
	// LanguagesFile is an optional TOML file overriding build/run commands.
	LanguagesFile string

	LogFormat string
	LogLevel  slog.Level

	JWTSecret    string
	APIKeyHashes []string

	// Docker is used when Sandbox is "docker". WorkDir is filled in from
	// BaseDir at startup.
	Docker docker.Config
}

// AuthEnabled reports whether any credential kind is configured.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" || len(c.APIKeyHashes) > 0
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:         8080,
		BaseDir:      "data/runner",
		DBPath:       "data/runner.db",
		Sandbox:      SandboxHost,
		StderrPolicy: executor.PolicyStrict,
		LogFormat:    LogText,
		LogLevel:     slog.LevelInfo,
		Docker:       docker.DefaultConfig(),
	}

	p := parser{getenv: getenv}

	cfg.Port = p.int("PORT", cfg.Port)
	if cfg.Port < 1 || cfg.Port > 65535 {
		p.fail("PORT", strconv.Itoa(cfg.Port), "must be between 1 and 65535")
	}

	cfg.BaseDir = p.string("RUNNER_BASE_DIR", cfg.BaseDir)
	cfg.DBPath = p.string("RUNNER_DB_PATH", cfg.DBPath)
	if strings.EqualFold(cfg.DBPath, HistoryOff) {
		cfg.DBPath = ""
	}

	cfg.Sandbox = strings.ToLower(p.string("RUNNER_SANDBOX", cfg.Sandbox))
	if cfg.Sandbox != SandboxHost && cfg.Sandbox != SandboxDocker {
		p.fail("RUNNER_SANDBOX", cfg.Sandbox, "must be host or docker")
	}

	if raw := getenv("RUNNER_STDERR_POLICY"); raw != "" {
		policy, err := executor.ParseStderrPolicy(raw)
		if err != nil {
			p.fail("RUNNER_STDERR_POLICY", raw, err.Error())
		}
		cfg.StderrPolicy = policy
	}

	cfg.KeepArtifacts = p.bool("RUNNER_KEEP_ARTIFACTS", false)
	cfg.ArtifactTTL = p.duration("RUNNER_ARTIFACT_TTL", 0)
	cfg.MaxConcurrent = int64(p.int("RUNNER_MAX_CONCURRENT", 0))
	if cfg.MaxConcurrent < 0 {
		p.fail("RUNNER_MAX_CONCURRENT", strconv.FormatInt(cfg.MaxConcurrent, 10), "must not be negative")
	}
	cfg.LanguagesFile = p.string("RUNNER_LANGUAGES_FILE", "")

	cfg.LogFormat = strings.ToLower(p.string("RUNNER_LOG_FORMAT", cfg.LogFormat))
	switch cfg.LogFormat {
	case LogText, LogJSON, LogPretty:
	default:
		p.fail("RUNNER_LOG_FORMAT", cfg.LogFormat, "must be text, json or pretty")
	}
	if raw := getenv("RUNNER_LOG_LEVEL"); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			p.fail("RUNNER_LOG_LEVEL", raw, "must be debug, info, warn or error")
		}
	}

	cfg.JWTSecret = getenv("RUNNER_JWT_SECRET")
	cfg.APIKeyHashes = splitList(getenv("RUNNER_API_KEY_HASHES"))

	cfg.Docker.Image = p.string("RUNNER_DOCKER_IMAGE", cfg.Docker.Image)
	cfg.Docker.Pull = p.bool("RUNNER_DOCKER_PULL", cfg.Docker.Pull)
	cfg.Docker.PoolSize = p.int("RUNNER_DOCKER_POOL", cfg.Docker.PoolSize)
	cfg.Docker.Timeout = p.duration("RUNNER_DOCKER_TIMEOUT", cfg.Docker.Timeout)
	if raw := getenv("RUNNER_DOCKER_MEMORY"); raw != "" {
		mem, err := units.RAMInBytes(raw)
		if err != nil || mem <= 0 {
			p.fail("RUNNER_DOCKER_MEMORY", raw, "must be a size such as 512m or 1g")
		}
		cfg.Docker.MemoryLimit = mem
	}
	if raw := getenv("RUNNER_DOCKER_CPUS"); raw != "" {
		cpus, err := strconv.ParseFloat(raw, 64)
		if err != nil || cpus <= 0 {
			p.fail("RUNNER_DOCKER_CPUS", raw, "must be a positive number")
		}
		cfg.Docker.CPULimit = cpus
	}

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// parser keeps the first error so Load can report it after reading
// everything.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) fail(key, value, reason string) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s=%q: %s", key, value, reason)
	}
}

func (p *parser) string(key, fallback string) string {
	if v := p.getenv(key); v != "" {
		return v
	}
	return fallback
}

func (p *parser) int(key string, fallback int) int {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, "must be an integer")
		return fallback
	}
	return v
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, "must be true or false")
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		p.fail(key, raw, "must be a duration such as 30s or 24h")
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
