// Package render phrases outbound messages. The language model is a styling
// collaborator only: it rewords the deterministic composition but never
// decides stages, pricing or approvals, and every failure falls back to the
// composed text unchanged.
package render

import (
	"context"

	"orderflow.app/engine/internal/flow"
)

type Renderer interface {
	Render(ctx context.Context, action flow.OutboundAction) (string, error)
}

// Static returns the deterministic composed text as-is. Used when no
// rendering backend is configured, and as the fallback path in tests.
type Static struct{}

func (Static) Render(_ context.Context, action flow.OutboundAction) (string, error) {
	return action.Text, nil
}
