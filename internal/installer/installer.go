// Package installer defines the dependency installer contract and provides
// an npm-based implementation with fingerprint short-circuiting: when the
// merged dependency set hashes to the previously installed fingerprint,
// the install is skipped entirely.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Logger receives human-readable build log lines from the installer.
type Logger interface {
	Logf(format string, args ...any)
}

// Request carries everything one install invocation needs.
type Request struct {
	// Dir is the deps directory inside the ephemeral build workspace.
	Dir string

	// Dependencies is the merged dependency set (name -> version constraint).
	Dependencies map[string]string

	// PreviousHash is the cached fingerprint for (canonicalPath, commit),
	// empty when nothing was installed before.
	PreviousHash string

	// CanonicalPath and ConsumerKey identify the requesting build for logs.
	CanonicalPath string
	ConsumerKey   string

	// UserWorkspacePath is the workspace root, used to pick up local
	// registry configuration (.npmrc).
	UserWorkspacePath string

	// Log receives progress lines. May be nil.
	Log Logger
}

// SideInfo is opaque module-resolution state handed to the compiler backend.
type SideInfo struct {
	NodeModulesDir string   `json:"node_modules_dir"`
	NodePaths      []string `json:"node_paths"`
}

// Result is a successful install's output.
type Result struct {
	// Hash is the new dependency fingerprint, persisted to the side cache.
	Hash string `json:"hash"`

	// Skipped reports whether the fingerprint matched and no work ran.
	Skipped bool `json:"skipped"`

	SideInfo SideInfo `json:"side_info"`
}

// Installer installs a merged dependency set into a workspace.
type Installer interface {
	Install(ctx context.Context, req Request) (*Result, error)
}

// Fingerprint computes the deterministic hash of a dependency set.
func Fingerprint(deps map[string]string) string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s@%s\n", name, deps[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writePackageJSON materializes the merged set as a package.json in dir.
func writePackageJSON(dir string, deps map[string]string) error {
	manifest := map[string]any{
		"name":         "bundlebuild-deps",
		"private":      true,
		"dependencies": deps,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal package.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644); err != nil {
		return fmt.Errorf("write package.json: %w", err)
	}
	return nil
}
