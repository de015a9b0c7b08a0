package facade

import (
	"context"
	"fmt"

	"github.com/example/modelgate/internal/registry"
	"github.com/example/modelgate/internal/router"
	"github.com/example/modelgate/internal/session"
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

// routedSummarizer implements session.Summarizer over the Router and
// Registry directly, rather than over a *Facade, so the composition root
// can build a Store before the Facade that will hold it — matching the
// one-way Router/Registry wiring spec.md §9 calls for, extended here to
// keep internal/session free of any dependency on internal/facade.
type routedSummarizer struct {
	router   *router.Router
	registry *registry.Registry
}

// NewSummarizer returns a session.Summarizer backed by rt and reg, used to
// condense a session's oldest messages once its context window fills.
func NewSummarizer(rt *router.Router, reg *registry.Registry) session.Summarizer {
	return &routedSummarizer{router: rt, registry: reg}
}

func (s *routedSummarizer) Summarize(ctx context.Context, messages []types.Message) (string, error) {
	candidates, err := s.router.Route(types.TaskSummarization, types.PriorityLow, types.TierMeowtrix, router.Constraints{})
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}

	req := provider.ProcessRequest{
		Task:     types.TaskSummarization,
		Messages: messages,
		Params:   provider.GenerationParams{Temperature: 0.3},
	}
	resp, err := s.router.Execute(ctx, candidates, req, s.registry.Process)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}
	return resp.Content, nil
}
