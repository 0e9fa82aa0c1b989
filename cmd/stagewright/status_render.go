package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"stagewright/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 22
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	return paint(base, statusKindColor(kind), colorize)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	return []string{paint(line, ansiBlue, colorize), paint(rule, ansiBlue, colorize)}
}

// renderKeyValues aligns label/value pairs; empty values are skipped.
func renderKeyValues(pairs [][2]string) []string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if strings.TrimSpace(p[1]) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%-*s  %s", statusIndent, width+1, p[0]+":", p[1]))
	}
	return lines
}

// renderResult summarizes a validation result: a verdict line followed by
// each error and warning.
func renderResult(stage string, r api.ValidationResult, colorize bool) []string {
	var lines []string
	switch {
	case !r.Valid:
		lines = append(lines, renderStatusLine(stage, statusError, "blocked", colorize))
	case len(r.Warnings) > 0:
		lines = append(lines, renderStatusLine(stage, statusWarn, "allowed with warnings", colorize))
	default:
		lines = append(lines, renderStatusLine(stage, statusOK, "allowed", colorize))
	}
	for _, msg := range r.Errors {
		lines = append(lines, paint(statusIndent+"  - "+msg, ansiRed, colorize))
	}
	for _, msg := range r.Warnings {
		lines = append(lines, paint(statusIndent+"  ! "+msg, ansiYellow, colorize))
	}
	var notes []string
	if r.RequiresManagerApproval {
		notes = append(notes, "bypass needs a manager")
	}
	if r.CanAutoAdvance {
		notes = append(notes, "eligible for auto-advance")
	}
	if len(notes) > 0 {
		lines = append(lines, statusIndent+"  ("+strings.Join(notes, ", ")+")")
	}
	return lines
}

func printLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
