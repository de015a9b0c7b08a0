// Package mistral implements provider.Provider against Mistral's
// OpenAI-compatible chat completions API.
package mistral

import (
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
	"github.com/example/modelgate/pkg/provider/openai"
)

const defaultBaseURL = "https://api.mistral.ai/v1"

// New constructs a Mistral driver by reusing the OpenAI-compatible chat
// completions driver against Mistral's API surface.
func New(apiKey string, opts ...openai.Option) (*openai.Driver, error) {
	base := append([]openai.Option{
		openai.WithBaseURL(defaultBaseURL),
		openai.WithProviderID(types.Mistral),
		openai.WithModelDescriptors(catalog()...),
	}, opts...)
	return openai.New(apiKey, base...)
}

func catalog() []provider.ModelDescriptor {
	chatCaps := map[types.TaskKind]bool{
		types.TaskChat: true, types.TaskTextGeneration: true,
		types.TaskSummarization: true, types.TaskTopicExtraction: true,
		types.TaskClassification: true, types.TaskSensemaking: true,
		types.TaskPlanning: true, types.TaskTranslation: true,
	}
	return []provider.ModelDescriptor{
		{
			ID: "mistral-large-latest", ProviderID: types.Mistral, DisplayName: "Mistral Large",
			MaxContextTokens: 128_000, Streaming: true, Functions: true, Available: true,
			PriorityScore: 1.05, CostPer1KPrompt: 0.002, CostPer1KCompletion: 0.006,
			Capabilities: chatCaps,
		},
		{
			ID: "mistral-small-latest", ProviderID: types.Mistral, DisplayName: "Mistral Small",
			MaxContextTokens: 32_000, Streaming: true, Functions: true, Available: true,
			PriorityScore: 0.85, CostPer1KPrompt: 0.0002, CostPer1KCompletion: 0.0006,
			Capabilities: chatCaps,
		},
	}
}
