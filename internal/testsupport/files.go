package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"stagewright/internal/stages"
)

// ScenarioWorkflow is a small linear pipeline without prerequisites:
// s1 -> s2 -> s3 -> s4 -> s5, plus a back edge s3 -> s2.
const ScenarioWorkflow = `
id: scenario
name: Scenario Pipeline
stages:
  - id: s1
    name: Inquiry
    order: 1
    entry: true
    next: [s2]
  - id: s2
    name: Quoted
    order: 2
    next: [s3]
  - id: s3
    name: Confirmed
    order: 3
    next: [s4, s2]
  - id: s4
    name: Production
    order: 4
    next: [s5]
  - id: s5
    name: Completed
    order: 5
`

// WriteWorkflow writes a stage definition under dir and returns its path.
func WriteWorkflow(t testing.TB, dir, definition string) string {
	t.Helper()

	path := filepath.Join(dir, "workflow.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(definition), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// MustGraph parses a stage definition or fails the test.
func MustGraph(t testing.TB, definition string) *stages.Graph {
	t.Helper()

	graph, err := stages.Parse([]byte(definition))
	if err != nil {
		t.Fatalf("stages.Parse: %v", err)
	}
	return graph
}
