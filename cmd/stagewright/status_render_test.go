package main

import (
	"strings"
	"testing"

	"stagewright/internal/api"
)

func TestRenderStatusLineColor(t *testing.T) {
	plain := renderStatusLine("Store", statusOK, "Reachable", false)
	if strings.Contains(plain, "\x1b[") {
		t.Fatalf("plain output should not carry ANSI codes: %q", plain)
	}
	if !strings.Contains(plain, "[OK] Reachable") {
		t.Fatalf("unexpected line %q", plain)
	}
	colored := renderStatusLine("Store", statusError, "down", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
}

func TestRenderResult(t *testing.T) {
	lines := renderResult("quote", api.ValidationResult{
		Valid:                   false,
		Errors:                  []string{"missing quote document"},
		Warnings:                []string{"priority is not set"},
		RequiresManagerApproval: true,
	}, false)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"[ERROR] blocked", "- missing quote document", "! priority is not set", "bypass needs a manager"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}

	lines = renderResult(stageLabel(""), api.ValidationResult{Valid: true, CanAutoAdvance: true}, false)
	if !strings.Contains(lines[0], "next stage:") || !strings.Contains(lines[0], "[OK] allowed") {
		t.Fatalf("unexpected verdict line %q", lines[0])
	}
}

func TestRenderKeyValuesSkipsEmpty(t *testing.T) {
	lines := renderKeyValues([][2]string{{"Project", "PRJ-1"}, {"Tags", ""}, {"Organization", "acme"}})
	if len(lines) != 2 {
		t.Fatalf("expected empty values to be skipped, got %v", lines)
	}
	if !strings.HasPrefix(lines[0], "  Project:      ") {
		t.Fatalf("expected aligned label, got %q", lines[0])
	}
}

func TestSortByPriority(t *testing.T) {
	projects := []api.Project{{ID: "b", Priority: "low"}, {ID: "a", Priority: "low"}, {ID: "c", Priority: "urgent"}}
	sortByPriority(projects)
	if projects[0].ID != "c" || projects[1].ID != "a" || projects[2].ID != "b" {
		t.Fatalf("unexpected order %+v", projects)
	}
}
