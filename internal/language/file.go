package language

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// fileRecipe is one [languages.<tag>] block of a languages file.
//
// Only the commands can be overridden. Extensions and output naming are part
// of the artifact contract and stay fixed.
//
//	[languages.py]
//	run = ["pypy3", "{source}"]
//
//	[languages.cpp]
//	build = ["g++", "-O2", "-std=c++17", "{source}", "-o", "{output}"]
type fileRecipe struct {
	Build *[]string `toml:"build"`
	Run   *[]string `toml:"run"`
}

type fileRoot struct {
	Languages map[string]fileRecipe `toml:"languages"`
}

// LoadFile reads a TOML languages file and applies it on top of the default table.
// The set of languages stays closed: a tag that is not built in is an error.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("language: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse applies TOML overrides to the default table.
func Parse(data []byte) (*Table, error) {
	var root fileRoot
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("language: decoding languages file: %w", err)
	}

	table := DefaultTable()
	for tag, override := range root.Languages {
		lang := Language(tag)
		recipe, ok := table.recipes[lang]
		if !ok {
			return nil, fmt.Errorf("language: unsupported language %q in languages file", tag)
		}
		if override.Run != nil {
			if len(*override.Run) == 0 {
				return nil, fmt.Errorf("language: %s: run command must not be empty", tag)
			}
			recipe.Run = *override.Run
		}
		if override.Build != nil {
			if !recipe.Compiled() {
				return nil, fmt.Errorf("language: %s: interpreted language cannot have a build command", tag)
			}
			if len(*override.Build) == 0 {
				return nil, fmt.Errorf("language: %s: build command must not be empty", tag)
			}
			recipe.Build = *override.Build
		}
		table.recipes[lang] = recipe
	}

	return table, nil
}
