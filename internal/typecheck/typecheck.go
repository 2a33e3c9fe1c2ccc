// Package typecheck defines the static type checker contract and provides
// an implementation that shells out to the TypeScript compiler.
package typecheck

import (
	"context"
	"fmt"
)

// Logger receives human-readable build log lines from the checker.
type Logger interface {
	Logf(format string, args ...any)
}

// Params configures one type check run.
type Params struct {
	// SourcePath is the provisioned source directory to check.
	SourcePath string

	// NodeModulesDir is the module resolution root from the installer.
	NodeModulesDir string

	// ShimsEnabled applies runtime compatibility shims for targets whose
	// globals differ from the checked source's assumptions.
	ShimsEnabled bool

	// Log receives progress lines. May be nil.
	Log Logger
}

// Diagnostic is one type error reported by the checker.
type Diagnostic struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// String renders the diagnostic in the checker's canonical single-line form.
func (d Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return fmt.Sprintf("%s(%d,%d): %s: %s", d.File, d.Line, d.Column, d.Code, d.Message)
}

// Checker runs static type checking over provisioned source. A non-empty
// diagnostic slice is a type failure; a non-nil error means the checker
// itself could not run.
type Checker interface {
	Check(ctx context.Context, p Params) ([]Diagnostic, error)
}
