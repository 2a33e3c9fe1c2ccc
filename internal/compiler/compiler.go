// Package compiler defines the bundler backend contract used by the build
// orchestrator, and provides the esbuild implementation. The orchestrator
// treats plugins, externals, and extra options as opaque strategy-supplied
// configuration.
package compiler

import (
	"context"

	"github.com/evanw/esbuild/pkg/api"
)

// Plugin is an opaque backend plugin supplied by a build strategy.
type Plugin = api.Plugin

// PlatformConfig selects the target runtime for a bundle.
type PlatformConfig struct {
	// Platform is one of browser|node|neutral.
	Platform string

	// Format is one of iife|cjs|esm.
	Format string

	// Target is the language target, e.g. "es2020". Empty means latest.
	Target string
}

// Options is one backend invocation's configuration. One Options value
// corresponds to one compile pass.
type Options struct {
	EntryPoints []string
	Outdir      string
	Platform    PlatformConfig
	Plugins     []Plugin
	Externals   []string

	// BannerJS is prepended to every generated js file.
	BannerJS string

	Sourcemap bool

	// NodePaths are extra module resolution roots (installer side-info).
	NodePaths []string

	// Extra carries backend-specific settings the orchestrator does not
	// interpret: minify (bool), tsconfig (string), define (map[string]string).
	Extra map[string]any
}

// OutputFile describes one emitted file.
type OutputFile struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Result is a successful backend invocation's output. Metafile is the
// backend's JSON build graph, used by strategies to decide whether another
// pass is needed.
type Result struct {
	Metafile string       `json:"metafile"`
	Outputs  []OutputFile `json:"outputs"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Backend compiles and bundles one entry for a target runtime.
type Backend interface {
	Compile(ctx context.Context, opts Options) (*Result, error)
}
