// Package artifact materializes the files a job needs on disk.
//
// FILESYSTEM LAYOUT:
//
//	{base}/codes/{jobId}.{ext}          source text, verbatim
//	{base}/inputs/{jobId}.txt           stdin text plus a trailing newline
//	{base}/outputs/{lang}/{jobId}(.out) compiled binary (compiled languages only)
//
// The job id is a random UUID. It is the only thing tying a job's files together,
// so nothing in this package needs locking: two jobs never share a file name.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/code-runner/internal/language"
)

const (
	codesDir   = "codes"
	inputsDir  = "inputs"
	outputsDir = "outputs"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Store owns the artifact directories under one base path.
type Store struct {
	base string
}

// New creates a Store rooted at base. The path is made absolute so that every
// path handed to a child process is valid regardless of its working directory.
func New(base string) (*Store, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolving base dir %q: %w", base, err)
	}
	return &Store{base: abs}, nil
}

// Base returns the absolute base directory.
func (s *Store) Base() string {
	return s.base
}

// Init creates every directory the store writes into. It runs once at startup
// and is safe to repeat: os.MkdirAll succeeds when the directory already exists.
func (s *Store) Init(langs []language.Language) error {
	dirs := []string{s.CodesDir(), s.InputsDir()}
	for _, lang := range langs {
		dirs = append(dirs, s.OutputDir(lang))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("artifact: creating %s: %w", dir, err)
		}
	}
	return nil
}

// CodesDir is where source files are written.
func (s *Store) CodesDir() string {
	return filepath.Join(s.base, codesDir)
}

// InputsDir is where stdin files are written.
func (s *Store) InputsDir() string {
	return filepath.Join(s.base, inputsDir)
}

// OutputDir is the per-language directory for compiled binaries.
func (s *Store) OutputDir(lang language.Language) string {
	return filepath.Join(s.base, outputsDir, string(lang))
}

// WriteSource writes sourceText unmodified to a freshly named file and returns
// its absolute path. The language tag is the file extension.
func (s *Store) WriteSource(lang language.Language, sourceText string) (string, error) {
	path := filepath.Join(s.CodesDir(), newJobID()+"."+string(lang))
	if err := os.WriteFile(path, []byte(sourceText), filePerm); err != nil {
		return "", fmt.Errorf("artifact: writing source: %w", err)
	}
	return path, nil
}

// WriteInput writes stdinText followed by a newline to a freshly named file.
// Its id is independent of any source file's id.
func (s *Store) WriteInput(stdinText string) (string, error) {
	path := filepath.Join(s.InputsDir(), newJobID()+".txt")
	if err := os.WriteFile(path, []byte(stdinText+"\n"), filePerm); err != nil {
		return "", fmt.Errorf("artifact: writing input: %w", err)
	}
	return path, nil
}

// OutputPath derives the compiled binary path from a source path, reusing the
// source's job id so that build and run agree on the binary name.
func (s *Store) OutputPath(lang language.Language, sourcePath, suffix string) string {
	return filepath.Join(s.OutputDir(lang), JobID(sourcePath)+suffix)
}

// Release removes a job's files. Files that were never created are ignored.
func (s *Store) Release(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("artifact: removing %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// JobOutputs lists whatever the build stage left in the language's output
// directory for the job that owns sourcePath.
// The base path is never treated as a pattern, so it may contain glob
// metacharacters.
func (s *Store) JobOutputs(lang language.Language, sourcePath string) ([]string, error) {
	dir := s.OutputDir(lang)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("artifact: listing outputs: %w", err)
	}

	id := JobID(sourcePath)
	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), id) {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	return matches, nil
}

// Sweep removes artifacts last modified before cutoff and returns how many
// were removed. It is the cleanup path when per-job release is disabled.
func (s *Store) Sweep(cutoff time.Time) (int, error) {
	removed := 0
	var errs []error

	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("artifact: sweeping: %w", errors.Join(errs...))
	}
	return removed, nil
}

// JobID extracts the job id from any artifact path: the file name up to the
// first dot.
func JobID(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func newJobID() string {
	return uuid.NewString()
}
