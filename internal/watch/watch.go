// Package watch drives continuous rebuilds: it watches the workspace
// directories of a set of build targets and re-runs their builds after a
// debounce window whenever source files change. Builds go through the
// orchestrator, so watch-mode rebuilds coalesce and cache like any other.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/uxforge/bundlebuild/internal/build"
	"github.com/uxforge/bundlebuild/internal/logfields"
	"github.com/uxforge/bundlebuild/internal/observability"
)

// ExecuteFunc runs one build request under a strategy kind.
type ExecuteFunc func(ctx context.Context, kind string, req build.Request) (*build.Output, error)

// Target is one watched build unit.
type Target struct {
	Kind    string
	Request build.Request
}

// Watcher rebuilds targets when their source trees change.
type Watcher struct {
	execute  ExecuteFunc
	debounce time.Duration
}

// New creates a Watcher. debounce bounds how long after the last change a
// rebuild waits; zero falls back to a sensible default.
func New(execute ExecuteFunc, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{execute: execute, debounce: debounce}
}

// Run builds every target once, then rebuilds changed targets until ctx is
// canceled. Build failures are reported and watching continues; only
// watcher-infrastructure failures end the loop with an error.
func (w *Watcher) Run(ctx context.Context, targets []Target) error {
	if len(targets) == 0 {
		return fmt.Errorf("no targets to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer fsw.Close()

	roots := make([]string, len(targets))
	for i, t := range targets {
		root := filepath.Join(t.Request.WorkspaceRoot, filepath.FromSlash(t.Request.SourcePath))
		roots[i] = root
		if err := addRecursive(fsw, root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}

	if err := w.rebuild(ctx, targets, allIndexes(targets)); err != nil {
		return err
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
		dirty  = make(map[int]struct{})
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			// New directories join the watch so nested edits are seen.
			if ev.Op.Has(fsnotify.Create) {
				_ = addRecursive(fsw, ev.Name)
			}
			for i, root := range roots {
				if ev.Name == root || strings.HasPrefix(ev.Name, root+string(filepath.Separator)) {
					dirty[i] = struct{}{}
				}
			}
			if len(dirty) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				// A fired-but-unconsumed timer leaves a stale tick in
				// the channel; drain it so Reset opens a full window.
				if !timer.Stop() {
					select {
					case <-timerC:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			observability.WarnContext(ctx, "Filesystem watcher error", logfields.Error(err))

		case <-timerC:
			timer = nil
			timerC = nil
			changed := dirty
			dirty = make(map[int]struct{})
			if err := w.rebuild(ctx, targets, changed); err != nil {
				return err
			}
		}
	}
}

// rebuild runs the given targets concurrently. A failed Output is logged
// and does not stop the group; an ExecuteFunc error (unknown kind) does.
func (w *Watcher) rebuild(ctx context.Context, targets []Target, indexes map[int]struct{}) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range indexes {
		t := targets[i]
		g.Go(func() error {
			out, err := w.execute(gctx, t.Kind, t.Request)
			if err != nil {
				return err
			}
			if !out.Success {
				observability.WarnContext(gctx, "Watched build failed",
					logfields.Kind(t.Kind), logfields.Path(t.Request.SourcePath), logfields.Error(fmt.Errorf("%s", out.Error)))
				return nil
			}
			observability.InfoContext(gctx, "Watched build complete",
				logfields.Kind(t.Kind), logfields.Path(t.Request.SourcePath), logfields.Commit(out.ArtifactKey.Commit))
			return nil
		})
	}
	return g.Wait()
}

func allIndexes(targets []Target) map[int]struct{} {
	all := make(map[int]struct{}, len(targets))
	for i := range targets {
		all[i] = struct{}{}
	}
	return all
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
