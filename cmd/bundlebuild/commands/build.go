package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/uxforge/bundlebuild/internal/build"
	"github.com/uxforge/bundlebuild/internal/strategy"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Path        string            `arg:"" help:"Workspace-relative source path to build"`
	Kind        string            `short:"k" default:"panel" help:"Strategy kind (panel|worker)"`
	VersionSpec string            `name:"version-spec" help:"Git revision to build (default: HEAD)"`
	Sourcemap   bool              `negatable:"" default:"true" help:"Generate sourcemaps"`
	Dev         bool              `help:"Bypass result-cache reads for this build"`
	Option      map[string]string `short:"O" help:"Strategy option as key=value (repeatable)"`
	JSON        bool              `help:"Print the full build output as JSON"`
}

func (b *BuildCmd) Run(_ *Global, root *CLI) error {
	rt, err := setup(root.Config, setupOpts{forceDevBypass: b.Dev})
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer func() { _ = rt.Close() }()

	req := build.Request{
		WorkspaceRoot: rt.cfg.WorkspaceRoot,
		SourcePath:    b.Path,
		VersionSpec:   b.VersionSpec,
		Sourcemap:     b.Sourcemap,
		Options:       b.Option,
	}
	if !b.JSON {
		req.OnProgress = func(e build.Event) {
			fmt.Printf("[%s] %s\n", e.State, e.Message)
		}
	}

	out, err := strategy.Execute(context.Background(), rt.orch, b.Kind, req)
	if err != nil {
		return err
	}

	if b.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
	}

	if !out.Success {
		for _, te := range out.TypeErrors {
			fmt.Fprintln(os.Stderr, te)
		}
		return fmt.Errorf("build failed (%s): %s", out.ErrorCategory, out.Error)
	}

	if !b.JSON {
		fmt.Printf("Build complete: %s\n", out.StableDir)
	}
	return nil
}
