package typecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiagnostics(t *testing.T) {
	output := `src/index.ts(12,5): error TS2304: Cannot find name 'foo'.
src/panel.tsx(3,1): error TS1005: ';' expected.
some unrelated noise
src/api.ts(40,12): warning TS6133: 'x' is declared but its value is never read.
`
	diags := ParseDiagnostics(output)
	require.Len(t, diags, 3)

	assert.Equal(t, Diagnostic{
		File: "src/index.ts", Line: 12, Column: 5,
		Code: "TS2304", Message: "Cannot find name 'foo'.",
	}, diags[0])
	assert.Equal(t, "TS1005", diags[1].Code)
	assert.Equal(t, "src/api.ts", diags[2].File)
}

func TestParseDiagnosticsEmpty(t *testing.T) {
	assert.Empty(t, ParseDiagnostics(""))
	assert.Empty(t, ParseDiagnostics("Compilation complete.\n"))
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{File: "a.ts", Line: 1, Column: 2, Code: "TS2304", Message: "Cannot find name 'x'."}
	assert.Equal(t, "a.ts(1,2): TS2304: Cannot find name 'x'.", d.String())

	global := Diagnostic{Code: "TS18003", Message: "No inputs were found."}
	assert.Equal(t, "TS18003: No inputs were found.", global.String())
}
