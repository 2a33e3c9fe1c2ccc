package typecheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// TSC runs `tsc --noEmit` over the source directory.
type TSC struct {
	// Binary overrides the tsc executable name (for tests).
	Binary string
}

// NewTSC returns a checker shelling out to tsc from PATH.
func NewTSC() *TSC { return &TSC{Binary: "tsc"} }

// shimLibs are the extra lib definitions applied when a strategy supports
// compatibility shims: the bundled runtime provides DOM-adjacent globals
// the plain target libs would reject.
var shimLibs = "es2022,dom,dom.iterable"

// Check implements Checker.
func (t *TSC) Check(ctx context.Context, p Params) ([]Diagnostic, error) {
	args := []string{"--noEmit", "--pretty", "false"}
	if p.ShimsEnabled {
		args = append(args, "--lib", shimLibs, "--skipLibCheck")
	}

	cmd := exec.CommandContext(ctx, t.Binary, args...)
	cmd.Dir = p.SourcePath
	cmd.Env = append(os.Environ(), "NODE_PATH="+p.NodeModulesDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if p.Log != nil {
		p.Log.Logf("type-checking %s (shims=%v)", p.SourcePath, p.ShimsEnabled)
	}

	err := cmd.Run()
	if err == nil {
		return nil, nil
	}

	// tsc exits non-zero when diagnostics exist; distinguish that from the
	// binary failing to run at all.
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("run %s: %w", t.Binary, err)
	}

	diags := ParseDiagnostics(stdout.String())
	if len(diags) == 0 {
		// Non-zero exit without parsable diagnostics is a checker failure.
		return nil, fmt.Errorf("%s exited %d: %s", t.Binary, exitErr.ExitCode(), strings.TrimSpace(stderr.String()+stdout.String()))
	}
	if p.Log != nil {
		p.Log.Logf("type check found %d diagnostics", len(diags))
	}
	return diags, nil
}

// diagRe matches tsc's non-pretty diagnostic lines:
//
//	src/index.ts(12,5): error TS2304: Cannot find name 'foo'.
var diagRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\): (?:error|warning) (TS\d+): (.+)$`)

// ParseDiagnostics extracts diagnostics from tsc output. Unmatched lines
// are ignored; multi-line messages keep only their first line, which is
// what the surrounding system displays.
func ParseDiagnostics(output string) []Diagnostic {
	var diags []Diagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		m := diagRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		colNo, _ := strconv.Atoi(m[3])
		diags = append(diags, Diagnostic{
			File:    m[1],
			Line:    lineNo,
			Column:  colNo,
			Code:    m[4],
			Message: m[5],
		})
	}
	return diags
}
