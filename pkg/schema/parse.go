package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes a YAML (or JSON) graph document and checks its header.
// Unknown fields are rejected.
func ParseDefinition(data []byte) (*GraphDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, NewError(ErrCodeValidation, "graph document is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def GraphDefinition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewError(ErrCodeValidation, "graph document is empty")
		}
		return nil, NewErrorf(ErrCodeValidation, "decode graph document: %s", err.Error()).WithCause(err)
	}

	if err := checkHeader(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinitionFile reads and parses a graph document from disk.
func LoadDefinitionFile(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorf(ErrCodeNotFound, "read graph document %s", path).WithCause(err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		var gErr *GraphError
		if errors.As(err, &gErr) {
			if gErr.Details == nil {
				gErr.Details = map[string]any{}
			}
			gErr.Details["file"] = path
		}
		return nil, err
	}
	return def, nil
}

// LoadDefinitionDir parses every *.yaml, *.yml and *.json file in dir, sorted by file name.
// Subdirectories are not traversed.
func LoadDefinitionDir(dir string) ([]*GraphDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewErrorf(ErrCodeNotFound, "read definitions directory %s", dir).WithCause(err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	defs := make([]*GraphDefinition, 0, len(files))
	for _, f := range files {
		def, err := LoadDefinitionFile(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func checkHeader(def *GraphDefinition) error {
	if def.APIVersion != APIVersion {
		return NewErrorf(ErrCodeValidation, "unsupported apiVersion %q (want %q)", def.APIVersion, APIVersion)
	}
	if def.Kind != KindComposableGraph {
		return NewErrorf(ErrCodeValidation, "unsupported kind %q (want %q)", def.Kind, KindComposableGraph)
	}
	if strings.TrimSpace(def.Metadata.Name) == "" {
		return NewError(ErrCodeValidation, "metadata.name is required")
	}
	return nil
}

// String renders a short identification for logs.
func (d *GraphDefinition) String() string {
	return fmt.Sprintf("%s/%s(%s)", d.APIVersion, d.Kind, d.Metadata.Name)
}
