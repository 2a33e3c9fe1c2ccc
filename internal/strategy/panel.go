// Package strategy provides the built-in build strategies. Panel bundles
// browser UI panels; Worker bundles node worker processes. Each strategy
// supplies kind-specific manifest validation, compiler configuration, and
// artifact post-processing; the pipeline itself lives in the build package.
package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/uxforge/bundlebuild/internal/build"
	"github.com/uxforge/bundlebuild/internal/compiler"
	bberrors "github.com/uxforge/bundlebuild/internal/errors"
	"github.com/uxforge/bundlebuild/internal/manifest"
)

// PanelState is the panel strategy's pass-local state: the set of static
// asset imports externalized out of the bundle so far.
type PanelState struct {
	Externals []string
}

// Panel builds browser panel bundles. Panels compile as iife for direct
// script-tag embedding, type-check with runtime shims enabled, and carry an
// auxiliary asset manifest next to the bundle.
type Panel struct{}

func (Panel) Kind() string { return "panel" }

func (Panel) OptionsSuffix(req build.Request) string { return req.OptionsFingerprint() }

func (Panel) ValidateManifest(raw []byte, manifestPath string) (*manifest.Manifest, error) {
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

// MergeDependencies folds dev dependencies into the install set; a regular
// dependency wins on name conflicts.
func (Panel) MergeDependencies(m *manifest.Manifest) map[string]string {
	merged := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies))
	for name, version := range m.Dependencies {
		merged[name] = version
	}
	for name, version := range m.DevDependencies {
		if _, ok := merged[name]; !ok {
			merged[name] = version
		}
	}
	return merged
}

func (Panel) PlatformConfig(build.Request) compiler.PlatformConfig {
	return compiler.PlatformConfig{Platform: "browser", Format: "iife", Target: "es2020"}
}

func (Panel) Plugins(*build.Context[PanelState], build.Request) []compiler.Plugin { return nil }

func (Panel) Externals(c *build.Context[PanelState], _ build.Request) []string {
	return c.State.Externals
}

func (Panel) BannerJS(c *build.Context[PanelState], _ build.Request) string {
	return fmt.Sprintf("/* %s@%s */", c.Manifest.Name, shortCommit(c.Commit))
}

// ExtraOptions takes minify and tsconfig defaults from the manifest; a
// request option overrides either.
func (Panel) ExtraOptions(c *build.Context[PanelState], req build.Request) map[string]any {
	extra := map[string]any{}
	minify, _ := c.Manifest.BoolField("minify")
	if v, ok := req.Options["minify"]; ok {
		minify = v == "true"
	}
	if minify {
		extra["minify"] = true
	}
	if ts, ok := c.Manifest.Field("tsconfig"); ok && ts != "" {
		extra["tsconfig"] = ts
	}
	if ts := req.Options["tsconfig"]; ts != "" {
		extra["tsconfig"] = ts
	}
	return extra
}

// SupportsShims is on: panels type-check against browser globals the
// embedding runtime polyfills.
func (Panel) SupportsShims(build.Request) bool { return true }

// ShouldRebuild externalizes static assets discovered in the build graph.
// Any asset import first seen on this pass joins the externals list and
// the bundle recompiles without it; once a pass discovers nothing new the
// loop settles.
func (Panel) ShouldRebuild(c *build.Context[PanelState], last *compiler.Result, _ build.Request) bool {
	added := false
	for _, input := range assetInputs(last.Metafile) {
		if !slices.Contains(c.State.Externals, input) {
			c.State.Externals = append(c.State.Externals, input)
			added = true
		}
	}
	if added {
		c.Log.Logf("externalizing %d static asset(s), recompiling", len(c.State.Externals))
	}
	return added
}

// BuildAuxiliary writes the asset manifest next to the bundle and reports
// it as artifacts. It runs concurrently with the type-check join.
func (Panel) BuildAuxiliary(_ context.Context, c *build.Context[PanelState], last *compiler.Result, _ build.Request) (build.Artifacts, error) {
	files := make(map[string]any, len(last.Outputs))
	for _, out := range last.Outputs {
		files[filepath.Base(out.Path)] = map[string]any{"bytes": out.Bytes}
	}

	doc := map[string]any{
		"name":   c.Manifest.Name,
		"commit": c.Commit,
		"files":  files,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal asset manifest: %w", err)
	}
	target := filepath.Join(c.Workspace.BuildDir, "assets.json")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return nil, fmt.Errorf("write asset manifest: %w", err)
	}

	return build.Artifacts{
		"asset_manifest": "assets.json",
		"assets":         files,
	}, nil
}

func (Panel) ProcessResult(c *build.Context[PanelState], res *compiler.Result, _ build.Request) (build.Artifacts, error) {
	if res == nil || len(res.Outputs) == 0 {
		return nil, errors.New("compiler produced no output files")
	}
	names := make([]string, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		names = append(names, filepath.Base(out.Path))
	}
	sort.Strings(names)

	artifacts := build.Artifacts{
		"kind":  "panel",
		"entry": c.Manifest.Entry,
		"files": names,
	}
	if len(res.Warnings) > 0 {
		artifacts["warnings"] = res.Warnings
	}
	return artifacts, nil
}

// assetExtensions are import suffixes a panel bundle never inlines.
var assetExtensions = map[string]bool{
	".svg":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".woff":  true,
	".woff2": true,
}

// assetInputs extracts static-asset input paths from a backend metafile.
// An unparsable metafile yields nothing; the loop then settles.
func assetInputs(metafile string) []string {
	var meta struct {
		Inputs map[string]json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return nil
	}
	var out []string
	for input := range meta.Inputs {
		if assetExtensions[strings.ToLower(path.Ext(input))] {
			out = append(out, input)
		}
	}
	sort.Strings(out)
	return out
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
