package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/uxforge/bundlebuild/internal/artifact"
	"github.com/uxforge/bundlebuild/internal/build"
	"github.com/uxforge/bundlebuild/internal/cache"
	"github.com/uxforge/bundlebuild/internal/compiler"
	"github.com/uxforge/bundlebuild/internal/config"
	"github.com/uxforge/bundlebuild/internal/installer"
	"github.com/uxforge/bundlebuild/internal/metrics"
	"github.com/uxforge/bundlebuild/internal/provision"
	"github.com/uxforge/bundlebuild/internal/typecheck"
)

// Global carries state shared across subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI is the root command grammar and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"bundlebuild.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build BuildCmd `cmd:"" help:"Build one source unit and promote its artifact"`
	Watch WatchCmd `cmd:"" help:"Watch source units and rebuild on change"`
	Cache CacheCmd `cmd:"" help:"Inspect and maintain the result cache"`
}

// AfterApply runs after flag parsing; sets up logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if v := os.Getenv("BUNDLEBUILD_LOG_LEVEL"); v != "" {
		level = parseLogLevel(v)
	}
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runtime bundles the wired collaborators one command invocation uses.
type runtime struct {
	cfg      *config.Config
	cache    *cache.Store
	orch     *build.Orchestrator
	registry *prom.Registry
}

// setupOpts tweaks wiring per command.
type setupOpts struct {
	// withMetrics registers build metrics on a fresh Prometheus registry
	// (exposed via runtime.registry) when metrics are enabled in config.
	withMetrics bool

	// forceDevBypass bypasses result-cache reads regardless of config.
	forceDevBypass bool
}

// setup loads configuration and wires the orchestrator.
func setup(configPath string, opts setupOpts) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}

	fsStore, err := artifact.NewFSStore(cfg.StableDir(), cfg.ScratchDir())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var registry *prom.Registry
	if opts.withMetrics && cfg.Metrics.Enabled {
		registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	orch := build.New(build.Options{
		Cache:            store,
		Store:            build.StoreFromFS(fsStore),
		Provisioner:      build.ProvisionerFromService(provision.NewService(cfg.ScratchDir())),
		Installer:        installer.NewNPM(),
		Backend:          compiler.NewEsbuild(),
		Checker:          typecheck.NewTSC(),
		Recorder:         recorder,
		DevBypass:        cfg.Cache.DevBypass || opts.forceDevBypass,
		InstallTimeout:   cfg.Build.InstallTimeout,
		TypecheckTimeout: cfg.Build.TypecheckTimeout,
	})

	return &runtime{cfg: cfg, cache: store, orch: orch, registry: registry}, nil
}

func (r *runtime) Close() error {
	return r.cache.Close()
}
