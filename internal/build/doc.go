// Package build provides the strategy-driven incremental build pipeline.
// All artifact kinds (UI panels, background workers, agent processes) share
// one lifecycle: provision → install → build → typecheck → cache. The
// orchestrator owns coalescing, the two-level cache, the multi-pass compile
// loop, and failure/cleanup handling; everything target-specific is
// delegated to an injected Strategy.
package build
