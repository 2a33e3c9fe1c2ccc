package build

import (
	"context"

	"github.com/uxforge/bundlebuild/internal/compiler"
	"github.com/uxforge/bundlebuild/internal/manifest"
)

// Strategy supplies all target-specific decisions for one artifact kind.
// Implementations are pure configuration/decision logic; I/O is limited to
// what a hook explicitly needs. S is the strategy's pass-local state type,
// carried on the Context between hooks and passes.
//
// Optional behavior lives on separate interfaces (EntryPreparer, Rebuilder,
// AuxiliaryBuilder) discovered by type assertion.
type Strategy[S any] interface {
	// Kind discriminates caches and artifacts, e.g. "panel" or "worker".
	Kind() string

	// OptionsSuffix returns a deterministic cache-key suffix covering the
	// full option set. Equal suffixes must mean interchangeable builds.
	OptionsSuffix(req Request) string

	// ValidateManifest checks the raw manifest against the kind's schema.
	ValidateManifest(raw []byte, path string) (*manifest.Manifest, error)

	// MergeDependencies produces the installed dependency set from the
	// validated manifest.
	MergeDependencies(man *manifest.Manifest) map[string]string

	// PlatformConfig selects the backend's target runtime.
	PlatformConfig(req Request) compiler.PlatformConfig

	// Plugins, Externals, BannerJS and ExtraOptions supply opaque backend
	// configuration, re-evaluated every pass.
	Plugins(c *Context[S], req Request) []compiler.Plugin
	Externals(c *Context[S], req Request) []string
	BannerJS(c *Context[S], req Request) string
	ExtraOptions(c *Context[S], req Request) map[string]any

	// SupportsShims reports whether the type checker applies compatibility
	// shims for this kind.
	SupportsShims(req Request) bool

	// ProcessResult turns the stabilized compile result into artifacts.
	ProcessResult(c *Context[S], res *compiler.Result, req Request) (Artifacts, error)
}

// EntryPreparer lets a strategy materialize a generated entry point per
// pass instead of using the manifest's default.
type EntryPreparer[S any] interface {
	PrepareEntry(c *Context[S], req Request) (string, error)
}

// Rebuilder lets a strategy request another compile pass after inspecting
// the previous pass's output. Later passes refine the build; they never
// validate it, which is why only the first pass failing is fatal.
type Rebuilder[S any] interface {
	ShouldRebuild(c *Context[S], last *compiler.Result, req Request) bool
}

// AuxiliaryBuilder lets a strategy run a secondary build concurrently with
// the type-check join. Its artifacts deep-merge into the final set: asset
// maps merge, scalars overwrite.
type AuxiliaryBuilder[S any] interface {
	BuildAuxiliary(ctx context.Context, c *Context[S], last *compiler.Result, req Request) (Artifacts, error)
}
