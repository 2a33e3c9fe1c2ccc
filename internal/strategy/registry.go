package strategy

import (
	"context"
	"fmt"

	"github.com/uxforge/bundlebuild/internal/build"
)

// Kinds lists the registered strategy kinds.
func Kinds() []string { return []string{"panel", "worker"} }

// Execute runs req under the named strategy kind. The switch is the one
// place generic strategies meet a runtime kind string.
func Execute(ctx context.Context, o *build.Orchestrator, kind string, req build.Request) (*build.Output, error) {
	switch kind {
	case "panel":
		return build.Run[PanelState](ctx, o, Panel{}, req), nil
	case "worker":
		return build.Run[WorkerState](ctx, o, Worker{}, req), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q (known: %v)", kind, Kinds())
	}
}
