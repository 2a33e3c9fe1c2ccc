package build

import (
	"github.com/uxforge/bundlebuild/internal/artifact"
	bberrors "github.com/uxforge/bundlebuild/internal/errors"
	"github.com/uxforge/bundlebuild/internal/manifest"
)

// Artifacts describes a build's produced outputs. Auxiliary build output
// deep-merges into it: nested maps merge, scalars overwrite.
type Artifacts map[string]any

// Output is the one terminal result of a build execution. It is fully
// serializable and is the only value returned to callers or stored in the
// result cache. No error ever crosses the Run boundary.
type Output struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`

	// ArtifactKey locates the stable artifact; the cache probe re-checks
	// its existence before trusting a cached entry.
	ArtifactKey artifact.Key `json:"artifact_key"`

	StableDir string             `json:"stable_dir,omitempty"`
	Manifest  *manifest.Manifest `json:"manifest,omitempty"`
	Artifacts Artifacts          `json:"artifacts,omitempty"`
	CacheKey  string             `json:"cache_key"`

	Error         string                 `json:"error,omitempty"`
	ErrorCategory bberrors.ErrorCategory `json:"error_category,omitempty"`

	// TypeErrors holds rendered diagnostics, truncated for display.
	TypeErrors []string `json:"type_errors,omitempty"`

	// BuildLog is the human-readable log of this execution.
	BuildLog string `json:"build_log,omitempty"`
}
