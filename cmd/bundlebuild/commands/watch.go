package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/uxforge/bundlebuild/internal/build"
	"github.com/uxforge/bundlebuild/internal/metrics"
	"github.com/uxforge/bundlebuild/internal/strategy"
	"github.com/uxforge/bundlebuild/internal/watch"
)

// WatchCmd implements the 'watch' command: continuous rebuilds of a set of
// targets, with an optional Prometheus endpoint.
type WatchCmd struct {
	Targets   []string      `arg:"" help:"Targets to watch, each as kind:path (e.g. panel:widgets/alpha)"`
	Debounce  time.Duration `help:"Quiet period before a rebuild (default from config)"`
	Sourcemap bool          `negatable:"" default:"true" help:"Generate sourcemaps"`
}

func (w *WatchCmd) Run(_ *Global, root *CLI) error {
	rt, err := setup(root.Config, setupOpts{withMetrics: true})
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer func() { _ = rt.Close() }()

	targets, err := w.parseTargets(rt.cfg.WorkspaceRoot)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rt.registry != nil {
		srv := &http.Server{Addr: rt.cfg.Metrics.Addr, Handler: metrics.HTTPHandler(rt.registry)}
		go func() {
			slog.Info("Serving metrics", "addr", rt.cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = rt.cfg.Build.WatchDebounce
	}

	watcher := watch.New(func(ctx context.Context, kind string, req build.Request) (*build.Output, error) {
		return strategy.Execute(ctx, rt.orch, kind, req)
	}, debounce)

	slog.Info("Watching for changes", "targets", len(targets))
	return watcher.Run(ctx, targets)
}

func (w *WatchCmd) parseTargets(workspaceRoot string) ([]watch.Target, error) {
	targets := make([]watch.Target, 0, len(w.Targets))
	for _, spec := range w.Targets {
		kind, path, ok := strings.Cut(spec, ":")
		if !ok || kind == "" || path == "" {
			return nil, fmt.Errorf("invalid target %q (want kind:path)", spec)
		}
		targets = append(targets, watch.Target{
			Kind: kind,
			Request: build.Request{
				WorkspaceRoot: workspaceRoot,
				SourcePath:    path,
				Sourcemap:     w.Sourcemap,
			},
		})
	}
	return targets, nil
}
