package build

import (
	"context"

	"github.com/uxforge/bundlebuild/internal/artifact"
)

// This file defines the orchestrator's view of its collaborators. The
// orchestrator depends on these narrow interfaces, not on the concrete
// implementations; adapters.go bridges the two.

// Source is a provisioned, immutable snapshot of a unit's source files.
type Source struct {
	// Path is the directory holding the snapshot.
	Path string

	// Commit is the resolved commit hash the snapshot was taken from.
	Commit string

	// Cleanup removes the snapshot. Idempotent.
	Cleanup func() error
}

// Provisioner resolves version specs to commits and materializes source
// snapshots for one build.
type Provisioner interface {
	ResolveCommit(ctx context.Context, root, sourcePath, version string) (string, error)
	Provision(ctx context.Context, root, sourcePath, version string, onProgress func(string)) (Source, error)
}

// Workspace is the ephemeral directory tree one build execution owns
// exclusively.
type Workspace struct {
	// BuildDir receives compiler output and is what gets promoted.
	BuildDir string

	// DepsDir is where the installer materializes the merged dependency set.
	DepsDir string

	// NodeModulesDir is the module resolution root inside DepsDir.
	NodeModulesDir string

	// Cleanup removes whatever remains of the workspace. Idempotent.
	Cleanup func() error
}

// ArtifactStore hands out ephemeral workspaces and persists promoted
// build outputs at commit-addressed stable locations.
type ArtifactStore interface {
	StablePath(key artifact.Key) string
	StableExists(key artifact.Key) bool
	CreateWorkspace(key artifact.Key) (Workspace, error)
	Promote(buildDir string, key artifact.Key) (string, error)
}

// ResultCache is the opaque key-value cache holding serialized build
// outputs and the dependency-fingerprint side cache. With bypass set,
// reads miss but writes still land.
type ResultCache interface {
	Get(ctx context.Context, key string, bypass bool) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ManifestLoader reads the raw build manifest from a provisioned source
// directory.
type ManifestLoader interface {
	Load(dir string) ([]byte, string, error)
}
