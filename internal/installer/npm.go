package installer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// NPM installs dependencies by shelling out to npm.
type NPM struct {
	// Binary overrides the npm executable name (for tests).
	Binary string
}

// NewNPM returns an installer shelling out to npm from PATH.
func NewNPM() *NPM { return &NPM{Binary: "npm"} }

// Install implements Installer.
func (n *NPM) Install(ctx context.Context, req Request) (*Result, error) {
	hash := Fingerprint(req.Dependencies)
	nodeModules := filepath.Join(req.Dir, "node_modules")
	sideInfo := SideInfo{
		NodeModulesDir: nodeModules,
		NodePaths:      []string{nodeModules},
	}

	if hash == req.PreviousHash && dirPopulated(nodeModules) {
		if req.Log != nil {
			req.Log.Logf("dependencies unchanged (%s), skipping install", short(hash))
		}
		return &Result{Hash: hash, Skipped: true, SideInfo: sideInfo}, nil
	}

	if len(req.Dependencies) == 0 {
		if req.Log != nil {
			req.Log.Logf("no dependencies to install")
		}
		return &Result{Hash: hash, SideInfo: sideInfo}, nil
	}

	if err := writePackageJSON(req.Dir, req.Dependencies); err != nil {
		return nil, err
	}
	if err := copyNpmrc(req.UserWorkspacePath, req.Dir); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, n.Binary, "install", "--no-audit", "--no-fund", "--loglevel", "error")
	cmd.Dir = req.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if req.Log != nil {
		req.Log.Logf("installing %d dependencies for %s", len(req.Dependencies), req.CanonicalPath)
	}
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("npm install: %w: %s", err, strings.TrimSpace(out.String()))
	}

	return &Result{Hash: hash, SideInfo: sideInfo}, nil
}

// dirPopulated reports whether dir exists and has at least one entry.
func dirPopulated(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// copyNpmrc carries the workspace's registry configuration into the
// install directory so scoped registries keep working.
func copyNpmrc(workspace, dir string) error {
	if workspace == "" {
		return nil
	}
	src := filepath.Join(workspace, ".npmrc")
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".npmrc"), data, 0o600); err != nil {
		return fmt.Errorf("copy .npmrc: %w", err)
	}
	return nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
