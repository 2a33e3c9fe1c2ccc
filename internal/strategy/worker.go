package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/uxforge/bundlebuild/internal/build"
	"github.com/uxforge/bundlebuild/internal/compiler"
	bberrors "github.com/uxforge/bundlebuild/internal/errors"
	"github.com/uxforge/bundlebuild/internal/manifest"
)

// WorkerState is the worker strategy's pass-local state. Workers are
// single-pass, so nothing carries over.
type WorkerState struct{}

// Worker builds node worker-process bundles: cjs format, a generated
// bootstrap entry with crash handling, no type-check shims.
type Worker struct{}

func (Worker) Kind() string { return "worker" }

func (Worker) OptionsSuffix(req build.Request) string { return req.OptionsFingerprint() }

func (Worker) ValidateManifest(raw []byte, manifestPath string) (*manifest.Manifest, error) {
	m, err := manifest.Decode(raw)
	if err != nil {
		return nil, bberrors.ManifestInvalid(manifestPath, err.Error())
	}
	if m.Name == "" {
		return nil, bberrors.ManifestInvalid(manifestPath, "name is required")
	}
	if m.Entry == "" {
		return nil, bberrors.ManifestInvalid(manifestPath, "entry is required")
	}
	return m, nil
}

// MergeDependencies installs regular dependencies only; a worker bundle
// has no dev-time tooling of its own.
func (Worker) MergeDependencies(m *manifest.Manifest) map[string]string {
	return m.Dependencies
}

func (Worker) PlatformConfig(build.Request) compiler.PlatformConfig {
	return compiler.PlatformConfig{Platform: "node", Format: "cjs", Target: "es2022"}
}

func (Worker) Plugins(*build.Context[WorkerState], build.Request) []compiler.Plugin { return nil }

func (Worker) Externals(*build.Context[WorkerState], build.Request) []string { return nil }

func (Worker) BannerJS(*build.Context[WorkerState], build.Request) string {
	return `"use strict";`
}

func (Worker) ExtraOptions(_ *build.Context[WorkerState], req build.Request) map[string]any {
	extra := map[string]any{}
	if req.Options["minify"] == "true" {
		extra["minify"] = true
	}
	if env := req.Options["env"]; env != "" {
		extra["define"] = map[string]string{"process.env.NODE_ENV": fmt.Sprintf("%q", env)}
	}
	return extra
}

// SupportsShims is off: workers type-check against plain node globals.
func (Worker) SupportsShims(build.Request) bool { return false }

// PrepareEntry generates a bootstrap entry that fails the process loudly
// on unhandled rejections before loading the manifest entry.
func (Worker) PrepareEntry(c *build.Context[WorkerState], _ build.Request) (string, error) {
	entry := filepath.Join(c.ResolvedPath, filepath.FromSlash(c.Manifest.Entry))
	src := fmt.Sprintf(
		"process.on(\"unhandledRejection\", (err) => { console.error(err); process.exit(1); });\nimport %q;\n",
		entry,
	)

	target := filepath.Join(c.Workspace.DepsDir, "worker-entry.gen.ts")
	if err := os.WriteFile(target, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("write bootstrap entry: %w", err)
	}
	return target, nil
}

func (Worker) ProcessResult(c *build.Context[WorkerState], res *compiler.Result, _ build.Request) (build.Artifacts, error) {
	if res == nil || len(res.Outputs) == 0 {
		return nil, fmt.Errorf("compiler produced no output files")
	}
	names := make([]string, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		names = append(names, filepath.Base(out.Path))
	}
	sort.Strings(names)

	return build.Artifacts{
		"kind":  "worker",
		"entry": c.Manifest.Entry,
		"files": names,
	}, nil
}
