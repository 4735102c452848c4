package executor

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/sakif/code-runner/internal/language"
)

// Registry maps each supported language to its Executor.
type Registry struct {
	executors map[language.Language]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[language.Language]Executor)}
}

// BuildRegistry creates one Runner per language in the table, all sharing the
// same sandbox and output locator.
func BuildRegistry(table *language.Table, sandbox Sandbox, outputs OutputLocator, policy StderrPolicy, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, lang := range table.Tags() {
		recipe, _ := table.Lookup(lang)
		if err := reg.Register(lang, NewRunner(lang, recipe, sandbox, outputs, policy, logger)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register adds an Executor. Registering a language twice is an error.
func (r *Registry) Register(lang language.Language, exec Executor) error {
	if exec == nil {
		return fmt.Errorf("executor: nil executor for language %q", lang)
	}
	if lang == "" {
		return fmt.Errorf("executor: missing language identifier")
	}
	if _, exists := r.executors[lang]; exists {
		return fmt.Errorf("executor: duplicate executor for language %q", lang)
	}
	r.executors[lang] = exec
	return nil
}

// Lookup returns the Executor for a language.
func (r *Registry) Lookup(lang language.Language) (Executor, bool) {
	exec, ok := r.executors[lang]
	return exec, ok
}

// Languages lists the registered languages in sorted order.
func (r *Registry) Languages() []language.Language {
	langs := make([]language.Language, 0, len(r.executors))
	for lang := range r.executors {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}
