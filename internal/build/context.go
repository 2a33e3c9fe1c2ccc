package build

import (
	"github.com/uxforge/bundlebuild/internal/artifact"
	"github.com/uxforge/bundlebuild/internal/compiler"
	"github.com/uxforge/bundlebuild/internal/installer"
	"github.com/uxforge/bundlebuild/internal/manifest"
)

// Context is the mutable per-invocation state threaded through strategy
// hooks. It is created at build start and discarded at build end. S is the
// strategy's own pass-local state type, giving hooks typed scratch state
// instead of a stringly-keyed bag.
type Context[S any] struct {
	BuildID string
	Request Request

	// ResolvedPath is the provisioned source snapshot directory.
	ResolvedPath string

	// CanonicalPath is the normalized workspace-relative source path.
	CanonicalPath string

	Commit string

	// Entry is the entry point of the current pass.
	Entry string

	Workspace   Workspace
	ArtifactKey artifact.Key
	Manifest    *manifest.Manifest

	// DepsHash and SideInfo come from the dependency installer.
	DepsHash string
	SideInfo installer.SideInfo

	// State is the strategy's pass-local scratch state.
	State S

	// Pass is the current compile pass number, starting at 1.
	Pass int

	// LastResult is the previous successful pass's output, nil on pass 1.
	LastResult *compiler.Result

	// Log is the build's human-readable log accumulator.
	Log *Log
}
