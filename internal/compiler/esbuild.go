package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Esbuild is the esbuild-backed Backend implementation.
type Esbuild struct{}

// NewEsbuild returns the esbuild backend.
func NewEsbuild() *Esbuild { return &Esbuild{} }

// Compile runs one esbuild invocation. esbuild's API is synchronous; the
// context is only consulted before starting.
func (e *Esbuild) Compile(ctx context.Context, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buildOpts := api.BuildOptions{
		EntryPoints: opts.EntryPoints,
		Outdir:      opts.Outdir,
		Bundle:      true,
		Write:       true,
		Metafile:    true,
		Platform:    platformOf(opts.Platform.Platform),
		Format:      formatOf(opts.Platform.Format),
		Target:      targetOf(opts.Platform.Target),
		External:    opts.Externals,
		NodePaths:   opts.NodePaths,
		Plugins:     opts.Plugins,
		LogLevel:    api.LogLevelSilent,
	}
	if opts.BannerJS != "" {
		buildOpts.Banner = map[string]string{"js": opts.BannerJS}
	}
	if opts.Sourcemap {
		buildOpts.Sourcemap = api.SourceMapLinked
	}
	applyExtra(&buildOpts, opts.Extra)

	result := api.Build(buildOpts)
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("esbuild: %s", formatMessages(result.Errors))
	}

	outputs, err := outputsFromMetafile(result.Metafile)
	if err != nil {
		return nil, err
	}
	return &Result{
		Metafile: result.Metafile,
		Outputs:  outputs,
		Warnings: messageTexts(result.Warnings),
	}, nil
}

func platformOf(p string) api.Platform {
	switch p {
	case "node":
		return api.PlatformNode
	case "neutral":
		return api.PlatformNeutral
	default:
		return api.PlatformBrowser
	}
}

func formatOf(f string) api.Format {
	switch f {
	case "cjs":
		return api.FormatCommonJS
	case "esm":
		return api.FormatESModule
	case "iife":
		return api.FormatIIFE
	default:
		return api.FormatDefault
	}
}

func targetOf(t string) api.Target {
	switch t {
	case "es2015":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2022":
		return api.ES2022
	default:
		return api.ESNext
	}
}

func applyExtra(buildOpts *api.BuildOptions, extra map[string]any) {
	if v, ok := extra["minify"].(bool); ok && v {
		buildOpts.MinifyWhitespace = true
		buildOpts.MinifyIdentifiers = true
		buildOpts.MinifySyntax = true
	}
	if v, ok := extra["tsconfig"].(string); ok {
		buildOpts.Tsconfig = v
	}
	if v, ok := extra["define"].(map[string]string); ok {
		buildOpts.Define = v
	}
	if v, ok := extra["splitting"].(bool); ok {
		buildOpts.Splitting = v
	}
}

func formatMessages(msgs []api.Message) string {
	return strings.Join(messageTexts(msgs), "; ")
}

func messageTexts(msgs []api.Message) []string {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			out = append(out, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		out = append(out, m.Text)
	}
	return out
}

// outputsFromMetafile lists emitted files from the metafile's outputs map,
// sorted for deterministic results.
func outputsFromMetafile(metafile string) ([]OutputFile, error) {
	if metafile == "" {
		return nil, nil
	}
	var meta struct {
		Outputs map[string]struct {
			Bytes int64 `json:"bytes"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return nil, fmt.Errorf("parse metafile: %w", err)
	}
	outputs := make([]OutputFile, 0, len(meta.Outputs))
	for path, info := range meta.Outputs {
		outputs = append(outputs, OutputFile{Path: path, Bytes: info.Bytes})
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Path < outputs[j].Path })
	return outputs, nil
}
