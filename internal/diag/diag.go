// Package diag defines the diagnostic and error vocabulary of the
// reqtrace core: severities, validation diagnostics, and the fatal
// error kinds raised by direct operations.
package diag

import "fmt"

// Severity classifies the impact of a diagnostic.
type Severity int

const (
	// Info is an advisory finding.
	Info Severity = iota
	// Warning is a finding that should be reviewed but does not fail
	// validation on its own.
	Warning
	// Error is a finding that fails validation.
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Escalate raises a severity to at least min. Severities are only ever
// escalated upward, never reduced.
func (s Severity) Escalate(min Severity) Severity {
	if min > s {
		return min
	}
	return s
}

// Diagnostic is a single validation finding. Scope identifies the item
// UID or document prefix the finding is about.
type Diagnostic struct {
	Severity Severity
	Scope    string
	Message  string
}

func (d Diagnostic) String() string {
	if d.Scope == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Scope, d.Message)
}

// Infof builds an info diagnostic.
func Infof(scope, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Severity: Info, Scope: scope, Message: fmt.Sprintf(format, args...)}
}

// Warningf builds a warning diagnostic.
func Warningf(scope, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Severity: Warning, Scope: scope, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds an error diagnostic.
func Errorf(scope, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Severity: Error, Scope: scope, Message: fmt.Sprintf(format, args...)}
}

// HasErrors reports whether any diagnostic in the sequence is
// error-severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity >= Error {
			return true
		}
	}
	return false
}

// StructuralError indicates a malformed record or configuration. It is
// always fatal to the triggering operation and never silently repaired.
type StructuralError struct {
	Path string
	Msg  string
}

func (e *StructuralError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// Structuralf builds a StructuralError for a path.
func Structuralf(path, format string, args ...interface{}) *StructuralError {
	return &StructuralError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// RefError indicates an unresolved reference, link target, parent
// prefix, or child number. It is a hard failure when raised by a direct
// single-target operation.
type RefError struct {
	Target string
	Msg    string
}

func (e *RefError) Error() string { return e.Msg }

// Reff builds a RefError for a target.
func Reff(target, format string, args ...interface{}) *RefError {
	return &RefError{Target: target, Msg: fmt.Sprintf(format, args...)}
}
