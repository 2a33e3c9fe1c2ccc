package build

import (
	"fmt"
	"sort"
	"strings"

	"github.com/uxforge/bundlebuild/internal/provision"
)

// Request identifies one unit of source to build. It is stateless and
// disposable; its serialized identity (strategy kind + canonical path +
// full options) is the lock key for coalescing and the result cache key.
type Request struct {
	// WorkspaceRoot is the version-controlled workspace to provision from.
	WorkspaceRoot string

	// SourcePath is the workspace-relative path of the source unit.
	SourcePath string

	// VersionSpec optionally pins the source to a revision. Empty means HEAD.
	VersionSpec string

	// Sourcemap enables sourcemap generation.
	Sourcemap bool

	// Options are strategy-interpreted settings, part of the lock key.
	Options map[string]string

	// OnProgress, when set, receives out-of-band progress events.
	OnProgress ProgressFunc
}

// OptionsFingerprint deterministically serializes the request's option set.
// Strategies include it in their OptionsSuffix so any option change maps to
// a distinct lock key.
func (r Request) OptionsFingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=%s;sm=%t", r.VersionSpec, r.Sourcemap)

	keys := make([]string, 0, len(r.Options))
	for k := range r.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ";%s=%s", k, r.Options[k])
	}
	return b.String()
}

// lockKeyFor builds the coalescing/cache key for a request.
func lockKeyFor(kind string, req Request, optionsSuffix string) string {
	return kind + "|" + provision.Canonicalize(req.SourcePath) + "|" + optionsSuffix
}
