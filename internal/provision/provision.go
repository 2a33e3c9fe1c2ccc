// Package provision resolves a workspace-relative source path (optionally
// pinned to a version) to a commit and materializes that source snapshot
// on disk for one build. The snapshot is read from the git object store,
// never from the working tree, so concurrent edits cannot leak into a build.
package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/uxforge/bundlebuild/internal/logfields"
)

// Provisioned is a materialized source snapshot plus its cleanup handle.
type Provisioned struct {
	// Path is the directory holding the extracted source files.
	Path string

	// Commit is the resolved commit hash the snapshot was taken from.
	Commit string

	dir string
}

// Cleanup removes the materialized snapshot. Idempotent.
func (p *Provisioned) Cleanup() error {
	if p.dir == "" {
		return nil
	}
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("cleanup provisioned source: %w", err)
	}
	p.dir = ""
	return nil
}

// Service provisions source snapshots from a git workspace.
type Service struct {
	scratchRoot string
}

// NewService creates a provisioning service extracting snapshots under
// scratchRoot.
func NewService(scratchRoot string) *Service {
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	return &Service{scratchRoot: scratchRoot}
}

// Canonicalize normalizes a workspace-relative source path for use in
// cache keys and artifact keys: cleaned, slash-separated, no leading "./".
func Canonicalize(sourcePath string) string {
	p := path.Clean(filepath.ToSlash(sourcePath))
	p = strings.TrimPrefix(p, "./")
	return p
}

// ResolveCommit resolves (path, version?) within the workspace at root to a
// commit hash. An empty version resolves to HEAD.
func (s *Service) ResolveCommit(ctx context.Context, root, sourcePath, version string) (string, error) {
	repo, err := openRepo(root)
	if err != nil {
		return "", err
	}
	hash, err := resolveRevision(repo, version)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// Provision materializes the source at (path, version?) and returns the
// snapshot location, resolved commit, and a cleanup handle. onProgress, when
// non-nil, receives human-readable status lines.
func (s *Service) Provision(ctx context.Context, root, sourcePath, version string, onProgress func(string)) (*Provisioned, error) {
	progress := func(msg string) {
		if onProgress != nil {
			onProgress(msg)
		}
	}

	repo, err := openRepo(root)
	if err != nil {
		return nil, err
	}
	hash, err := resolveRevision(repo, version)
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree for %s: %w", hash, err)
	}

	canonical := Canonicalize(sourcePath)
	if canonical != "." && canonical != "" {
		tree, err = tree.Tree(canonical)
		if err != nil {
			return nil, fmt.Errorf("source path %s not present at %s: %w", canonical, hash, err)
		}
	}

	if err := os.MkdirAll(s.scratchRoot, 0o750); err != nil {
		return nil, fmt.Errorf("create provision root: %w", err)
	}
	dir, err := os.MkdirTemp(s.scratchRoot, "src-")
	if err != nil {
		return nil, fmt.Errorf("create provision dir: %w", err)
	}

	progress(fmt.Sprintf("checking out %s at %s", canonical, hash.String()[:8]))
	if err := extractTree(tree, dir); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	slog.Debug("Provisioned source snapshot",
		logfields.Path(dir), logfields.Commit(hash.String()))
	return &Provisioned{Path: dir, Commit: hash.String(), dir: dir}, nil
}

func openRepo(root string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open workspace repository at %s: %w", root, err)
	}
	return repo, nil
}

func resolveRevision(repo *git.Repository, version string) (*plumbing.Hash, error) {
	rev := plumbing.Revision(plumbing.HEAD)
	if version != "" {
		rev = plumbing.Revision(version)
	}
	hash, err := repo.ResolveRevision(rev)
	if err != nil {
		return nil, fmt.Errorf("resolve revision %q: %w", rev, err)
	}
	return hash, nil
}

func extractTree(tree *object.Tree, dir string) error {
	return tree.Files().ForEach(func(f *object.File) error {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("create source directory: %w", err)
		}

		mode := os.FileMode(0o644)
		if f.Mode == filemode.Executable {
			mode = 0o755
		}

		reader, err := f.Reader()
		if err != nil {
			return fmt.Errorf("read blob %s: %w", f.Name, err)
		}
		defer reader.Close()

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("create source file %s: %w", target, err)
		}
		if _, err := io.Copy(out, reader); err != nil {
			_ = out.Close()
			return fmt.Errorf("write source file %s: %w", target, err)
		}
		return out.Close()
	})
}
