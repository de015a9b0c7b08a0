// Package openrouter implements provider.Provider against OpenRouter's
// OpenAI-compatible chat completions API, used as the gateway's
// catch-all/overflow backend.
package openrouter

import (
	"net/http"

	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
	"github.com/example/modelgate/pkg/provider/openai"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Config carries the referer/title headers OpenRouter asks clients to set
// for attribution on its leaderboard, in addition to the standard options.
type Config struct {
	Referer string
	Title   string
}

// New constructs an OpenRouter driver by reusing the OpenAI-compatible chat
// completions driver, adding OpenRouter's attribution headers.
func New(apiKey string, attribution Config, opts ...openai.Option) (*openai.Driver, error) {
	headers := http.Header{}
	if attribution.Referer != "" {
		headers.Set("HTTP-Referer", attribution.Referer)
	}
	if attribution.Title != "" {
		headers.Set("X-Title", attribution.Title)
	}

	base := []openai.Option{
		openai.WithBaseURL(defaultBaseURL),
		openai.WithProviderID(types.OpenRouter),
		openai.WithModelDescriptors(catalog()...),
	}
	for k, vs := range headers {
		for _, v := range vs {
			base = append(base, openai.WithExtraHeader(k, v))
		}
	}
	base = append(base, opts...)
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
			ID: "openrouter/auto", ProviderID: types.OpenRouter, DisplayName: "OpenRouter Auto",
			MaxContextTokens: 128_000, Streaming: true, Functions: true, Available: true,
			PriorityScore: 0.6, CostPer1KPrompt: 0.002, CostPer1KCompletion: 0.006,
			Capabilities: chatCaps,
		},
	}
}
