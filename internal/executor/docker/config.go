package docker

import (
	"fmt"
	"os"
	"time"
)

// Config holds the configuration for the Docker sandbox.
type Config struct {
	// Image must contain every toolchain the language table invokes
	// (g++, go, java, python3, node). See build/toolchains.Dockerfile.
	Image string
	// Pull asks the daemon to pull Image at startup. Leave it off for locally
	// built images.
	Pull bool
	// MemoryLimit is the maximum amount of memory a container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs a container can use.
	CPULimit float64
	// Timeout bounds a single build or run. Zero means no limit.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// WorkDir is the host directory holding the artifacts. It is bind-mounted
	// at the same path inside every container, so paths need no translation.
	WorkDir string
	// User is the uid:gid programs run as. Files they create in WorkDir
	// belong to this user on the host too.
	User string
}

// DefaultConfig provides defaults for a multi-language sandbox.
func DefaultConfig() Config {
	return Config{
		Image: "code-runner/toolchains:latest",
		// 512 MB: javac and the go toolchain need room
		MemoryLimit: 512 * 1024 * 1024,
		CPULimit:    1,
		PoolSize:    3,
		// Same owner as the server so artifacts stay removable.
		User: fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	}
}
