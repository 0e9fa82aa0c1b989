package transition

import (
	"errors"
	"fmt"
	"strings"

	"stagewright/internal/ledger"
)

// Kind classifies a transition failure.
type Kind string

const (
	KindStructuralViolation Kind = "structural_violation"
	KindPrerequisiteFailure Kind = "prerequisite_failure"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindBackendFailure      Kind = "backend_failure"
	KindLedgerWriteFailure  Kind = "ledger_write_failure"
	KindInvalidOptions      Kind = "invalid_options"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
)

var (
	ErrStructuralViolation = errors.New("structural violation")
	ErrPrerequisiteFailure = errors.New("prerequisites not met")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrBackendFailure      = errors.New("backend failure")
	ErrLedgerWrite         = ledger.ErrLedgerWrite
	ErrInvalidOptions      = errors.New("invalid transition options")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("project not found")
)

var kindSentinels = map[Kind]error{
	KindStructuralViolation: ErrStructuralViolation,
	KindPrerequisiteFailure: ErrPrerequisiteFailure,
	KindConcurrencyConflict: ErrConcurrencyConflict,
	KindBackendFailure:      ErrBackendFailure,
	KindLedgerWriteFailure:  ErrLedgerWrite,
	KindInvalidOptions:      ErrInvalidOptions,
	KindForbidden:           ErrForbidden,
	KindNotFound:            ErrNotFound,
}

// Error is the failure of a transition request.
type Error struct {
	Kind    Kind
	Reasons []string
	Err     error
	// MutationCommitted reports whether the stage change reached the store.
	MutationCommitted bool
	LedgerRecorded    bool
}

func newError(kind Kind, err error, reasons ...string) *Error {
	return &Error{Kind: kind, Reasons: reasons, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if len(e.Reasons) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Reasons, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the kind sentinel and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		out = append(out, sentinel)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the Kind of err, or "" when err is not a transition error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Reasons returns the reason list carried by err, falling back to its text.
func Reasons(err error) []string {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) && len(te.Reasons) > 0 {
		return append([]string(nil), te.Reasons...)
	}
	return []string{err.Error()}
}

func reasonf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
