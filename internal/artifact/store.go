// Package artifact provides durable, commit-addressed storage for build
// outputs, plus ephemeral per-build workspaces. A stable artifact outlives
// the build that created it and is invalidated only externally.
package artifact

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/uxforge/bundlebuild/internal/logfields"
)

// Key identifies one stable artifact location. Equal keys denote
// interchangeable outputs.
type Key struct {
	Kind          string `json:"kind"`
	CanonicalPath string `json:"canonical_path"`
	Commit        string `json:"commit"`
}

// String renders the key for logs and cache payloads.
func (k Key) String() string {
	return k.Kind + "/" + k.CanonicalPath + "@" + k.Commit
}

// segment produces a filesystem-safe directory name for the canonical path.
// The short hash disambiguates paths that sanitize to the same name.
func (k Key) segment() string {
	sum := sha256.Sum256([]byte(k.CanonicalPath))
	safe := strings.NewReplacer("/", "__", "\\", "__", ":", "_").Replace(k.CanonicalPath)
	return safe + "-" + hex.EncodeToString(sum[:4])
}

// Workspace is the ephemeral directory tree one build execution owns
// exclusively. Coalescing shares results, never workspaces.
type Workspace struct {
	// BuildDir receives compiler output and is what gets promoted.
	BuildDir string

	// DepsDir is where the dependency installer materializes the merged set.
	DepsDir string

	// NodeModulesDir is the module resolution root inside DepsDir.
	NodeModulesDir string

	root string
}

// Cleanup removes the workspace. Safe to call after promotion moved
// BuildDir away; only what remains is deleted.
func (w *Workspace) Cleanup() error {
	if w.root == "" {
		return nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("cleanup workspace: %w", err)
	}
	w.root = ""
	return nil
}

// FSStore is the filesystem implementation of the artifact store.
//
// Layout:
//
//	<stable>/<kind>/<path-segment>/<commit>   promoted artifacts
//	<scratch>/<kind>-<commit8>-<nonce>/       ephemeral workspaces
//	  build/
//	  deps/node_modules/
type FSStore struct {
	stableRoot  string
	scratchRoot string
}

// NewFSStore creates the store roots if needed. Both roots should live on
// the same filesystem so promotion can use atomic rename.
func NewFSStore(stableRoot, scratchRoot string) (*FSStore, error) {
	for _, dir := range []string{stableRoot, scratchRoot} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}
	return &FSStore{stableRoot: stableRoot, scratchRoot: scratchRoot}, nil
}

// StablePath returns where the stable artifact for key lives (or would live).
func (s *FSStore) StablePath(key Key) string {
	return filepath.Join(s.stableRoot, key.Kind, key.segment(), key.Commit)
}

// StableExists reports whether a promoted artifact exists for key.
func (s *FSStore) StableExists(key Key) bool {
	info, err := os.Stat(s.StablePath(key))
	return err == nil && info.IsDir()
}

// CreateWorkspace makes a fresh ephemeral workspace for one build of key.
func (s *FSStore) CreateWorkspace(key Key) (*Workspace, error) {
	commit8 := key.Commit
	if len(commit8) > 8 {
		commit8 = commit8[:8]
	}
	nonce := make([]byte, 4)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("workspace nonce: %w", err)
	}
	root := filepath.Join(s.scratchRoot, fmt.Sprintf("%s-%s-%s", key.Kind, commit8, hex.EncodeToString(nonce)))

	ws := &Workspace{
		BuildDir:       filepath.Join(root, "build"),
		DepsDir:        filepath.Join(root, "deps"),
		NodeModulesDir: filepath.Join(root, "deps", "node_modules"),
		root:           root,
	}
	for _, dir := range []string{ws.BuildDir, ws.NodeModulesDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create workspace directory %s: %w", dir, err)
		}
	}
	slog.Debug("Created build workspace", logfields.Path(root), logfields.Kind(key.Kind))
	return ws, nil
}

// Promote moves buildDir into the stable location for key with atomic move
// semantics. Concurrent readers never observe a partially-written stable
// directory. If an artifact already exists for key, the candidate is
// discarded: equal keys denote interchangeable outputs.
func (s *FSStore) Promote(buildDir string, key Key) (string, error) {
	stable := s.StablePath(key)
	if err := os.MkdirAll(filepath.Dir(stable), 0o750); err != nil {
		return "", fmt.Errorf("create stable parent: %w", err)
	}

	err := os.Rename(buildDir, stable)
	if err == nil {
		slog.Info("Promoted artifact", logfields.Path(stable), logfields.Kind(key.Kind), logfields.Commit(key.Commit))
		return stable, nil
	}

	// A concurrent or earlier build won the rename. Keep the existing
	// stable output and drop ours.
	if s.StableExists(key) {
		_ = os.RemoveAll(buildDir)
		slog.Debug("Stable artifact already present, discarding candidate",
			logfields.Path(stable), logfields.Kind(key.Kind))
		return stable, nil
	}
	return "", fmt.Errorf("promote %s: %w", key.String(), err)
}

// Remove deletes the stable artifact for key, if present.
func (s *FSStore) Remove(key Key) error {
	if err := os.RemoveAll(s.StablePath(key)); err != nil {
		return fmt.Errorf("remove stable artifact: %w", err)
	}
	return nil
}
