// Package deepseek implements provider.Provider against DeepSeek's
// OpenAI-compatible chat completions API.
package deepseek

import (
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
	"github.com/example/modelgate/pkg/provider/openai"
)

const defaultBaseURL = "https://api.deepseek.com/v1"

// New constructs a DeepSeek driver by reusing the OpenAI-compatible chat
// completions driver against DeepSeek's API surface.
func New(apiKey string, opts ...openai.Option) (*openai.Driver, error) {
	base := append([]openai.Option{
		openai.WithBaseURL(defaultBaseURL),
		openai.WithProviderID(types.DeepSeek),
		openai.WithModelDescriptors(catalog()...),
	}, opts...)
	return openai.New(apiKey, base...)
}

func catalog() []provider.ModelDescriptor {
	chatCaps := map[types.TaskKind]bool{
		types.TaskChat: true, types.TaskTextGeneration: true,
		types.TaskSummarization: true, types.TaskSensemaking: true,
		types.TaskPlanning: true,
	}
	return []provider.ModelDescriptor{
		{
			ID: "deepseek-chat", ProviderID: types.DeepSeek, DisplayName: "DeepSeek Chat",
			MaxContextTokens: 64_000, Streaming: true, Functions: true, Available: true,
			PriorityScore: 0.95, CostPer1KPrompt: 0.00027, CostPer1KCompletion: 0.0011,
			Capabilities: chatCaps,
		},
		{
			ID: "deepseek-reasoner", ProviderID: types.DeepSeek, DisplayName: "DeepSeek Reasoner",
			MaxContextTokens: 64_000, Streaming: true, Functions: false, Available: true,
			PriorityScore: 1.1, CostPer1KPrompt: 0.00055, CostPer1KCompletion: 0.00219,
			Capabilities: map[types.TaskKind]bool{
				types.TaskSensemaking: true, types.TaskPlanning: true, types.TaskTextGeneration: true,
			},
		},
	}
}
