package stages

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed workflow.yaml
var defaultDefinition []byte

// Definition is the on-disk shape of a workflow stage graph.
type Definition struct {
	ID     string            `yaml:"id"`
	Name   string            `yaml:"name"`
	Stages []StageDefinition `yaml:"stages"`
}

// StageDefinition declares one stage node and its outgoing edges.
type StageDefinition struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Order         int      `yaml:"order"`
	Entry         bool     `yaml:"entry"`
	Next          []string `yaml:"next"`
	Prerequisites []string `yaml:"prerequisites"`
}

// Default returns the built-in manufacturing pipeline.
func Default() (*Graph, error) {
	return Parse(defaultDefinition)
}

// MustDefault is Default for wiring code that cannot recover from a broken
// embedded definition.
func MustDefault() *Graph {
	g, err := Default()
	if err != nil {
		panic(fmt.Sprintf("stages: embedded workflow definition: %v", err))
	}
	return g
}

// Parse decodes and validates a YAML workflow definition.
func Parse(data []byte) (*Graph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("stages: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("stages: decode definition: %w", err)
	}
	return New(def)
}

// LoadReader reads a workflow definition from r.
func LoadReader(r io.Reader) (*Graph, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("stages: read definition: %w", err)
	}
	return Parse(content)
}

// LoadFile loads a workflow definition from path.
func LoadFile(path string) (*Graph, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stages: read %s: %w", path, err)
	}
	g, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("stages: %s: %w", path, err)
	}
	return g, nil
}

// Load returns the graph at path, or the built-in definition when path is empty.
func Load(path string) (*Graph, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return LoadFile(path)
}

func (def Definition) normalized() (Definition, error) {
	out := Definition{
		ID:   strings.TrimSpace(def.ID),
		Name: strings.TrimSpace(def.Name),
	}
	if len(def.Stages) == 0 {
		return Definition{}, fmt.Errorf("stages: at least one stage is required")
	}
	seen := make(map[string]struct{}, len(def.Stages))
	out.Stages = make([]StageDefinition, 0, len(def.Stages))
	for idx, sd := range def.Stages {
		sd.ID = strings.TrimSpace(sd.ID)
		if sd.ID == "" {
			return Definition{}, fmt.Errorf("stages: stage[%d]: id is required", idx)
		}
		if _, dup := seen[sd.ID]; dup {
			return Definition{}, fmt.Errorf("stages: duplicate stage id %q", sd.ID)
		}
		seen[sd.ID] = struct{}{}
		sd.Name = strings.TrimSpace(sd.Name)
		if sd.Name == "" {
			sd.Name = displayName(sd.ID)
		}
		sd.Next = trimAll(sd.Next)
		sd.Prerequisites = trimAll(sd.Prerequisites)
		out.Stages = append(out.Stages, sd)
	}
	for _, sd := range out.Stages {
		for _, next := range sd.Next {
			if _, ok := seen[next]; !ok {
				return Definition{}, fmt.Errorf("stages: stage %q: next stage %q is not defined", sd.ID, next)
			}
			if next == sd.ID {
				return Definition{}, fmt.Errorf("stages: stage %q: self transition is not allowed", sd.ID)
			}
		}
	}
	return out, nil
}

// displayName derives a label from a stage id. Casers are stateful, so each
// call builds its own.
func displayName(id string) string {
	words := strings.NewReplacer("_", " ", "-", " ").Replace(id)
	return cases.Title(language.English).String(words)
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
