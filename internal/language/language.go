// Package language defines the closed set of supported language tags and the
// build/run recipe for each of them.
//
// STRATEGY TABLE:
// Every supported language runs through the same generic executor. What differs
// between languages is pure data: the file extension, an optional build command
// and the run command. Keeping that data in one table means adding a language is
// a one-entry change instead of a new copy of the whole pipeline.
package language

import (
	"sort"
	"strings"
)

// Language is a language tag as sent by clients, e.g. "cpp" or "py".
// The tag doubles as the source file extension.
type Language string

const (
	CPP        Language = "cpp"
	Java       Language = "java"
	Python     Language = "py"
	Go         Language = "go"
	JavaScript Language = "js"
)

// Default is used when a request does not name a language.
const Default = CPP

// Template placeholders understood by Expand.
const (
	PlaceholderSource    = "{source}"
	PlaceholderOutput    = "{output}"
	PlaceholderOutputDir = "{outputDir}"
	PlaceholderJobID     = "{jobId}"
)

// Recipe describes how to turn a source file into running code.
//
// Build is nil for interpreted languages (and for Java, which uses the
// single-file source launcher). Run is always set.
type Recipe struct {
	// Extension is the source file extension without the dot.
	Extension string
	// OutputSuffix is appended to the job id to name the compiled binary.
	OutputSuffix string
	// Build is the compiler/build-tool command template.
	Build []string
	// Run is the run command template.
	Run []string
}

// Compiled reports whether the recipe has a separate build step.
func (r Recipe) Compiled() bool {
	return len(r.Build) > 0
}

// Table maps language tags to recipes. The zero value is an empty table.
type Table struct {
	recipes map[Language]Recipe
}

// DefaultTable returns the built-in recipes for all supported languages.
func DefaultTable() *Table {
	return &Table{recipes: map[Language]Recipe{
		CPP: {
			Extension:    "cpp",
			OutputSuffix: ".out",
			Build:        []string{"g++", PlaceholderSource, "-o", PlaceholderOutput},
			Run:          []string{PlaceholderOutput},
		},
		Go: {
			Extension: "go",
			Build:     []string{"go", "build", "-o", PlaceholderOutput, PlaceholderSource},
			Run:       []string{PlaceholderOutput},
		},
		Java: {
			Extension: "java",
			Run:       []string{"java", PlaceholderSource},
		},
		Python: {
			Extension: "py",
			Run:       []string{"python3", PlaceholderSource},
		},
		JavaScript: {
			Extension: "js",
			Run:       []string{"node", PlaceholderSource},
		},
	}}
}

// Lookup returns the recipe for a tag.
func (t *Table) Lookup(lang Language) (Recipe, bool) {
	r, ok := t.recipes[lang]
	return r, ok
}

// Supported reports whether the tag is known.
func (t *Table) Supported(lang Language) bool {
	_, ok := t.recipes[lang]
	return ok
}

// Tags returns all supported tags in sorted order.
func (t *Table) Tags() []Language {
	tags := make([]Language, 0, len(t.recipes))
	for lang := range t.recipes {
		tags = append(tags, lang)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Expand substitutes placeholders in every element of a command template.
// No shell is involved, so values are never re-split or interpreted.
func Expand(template []string, vars map[string]string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		for placeholder, value := range vars {
			arg = strings.ReplaceAll(arg, placeholder, value)
		}
		out[i] = arg
	}
	return out
}
