// Package openai implements provider.Provider against the OpenAI chat
// completions and embeddings APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/pkoukk/tiktoken-go"

	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

const defaultTimeout = 60 * time.Second

// config holds optional configuration for the driver.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	models       []string
	providerID   types.ProviderID
	catalog      map[string]provider.ModelDescriptor
	extraHeaders map[string]string
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithModels overrides the catalog of model IDs the driver advertises.
func WithModels(models ...string) Option {
	return func(c *config) { c.models = models }
}

// WithExtraHeader sets an additional HTTP header on every request, used by
// OpenAI-compatible vendors that require custom attribution or routing
// headers (e.g. OpenRouter's HTTP-Referer / X-Title).
func WithExtraHeader(key, value string) Option {
	return func(c *config) {
		if c.extraHeaders == nil {
			c.extraHeaders = map[string]string{}
		}
		c.extraHeaders[key] = value
	}
}

// WithProviderID overrides the provider identity reported by ID() and
// embedded in the model catalog, for OpenAI-API-compatible vendors
// (Mistral, DeepSeek, OpenRouter) that reuse this driver against their own
// base URL.
func WithProviderID(id types.ProviderID) Option {
	return func(c *config) { c.providerID = id }
}

// WithModelDescriptors supplies an explicit catalog, bypassing the
// OpenAI-model-name capability table entirely. Used by OpenAI-compatible
// vendors whose model families and pricing differ from OpenAI's.
func WithModelDescriptors(models ...provider.ModelDescriptor) Option {
	return func(c *config) {
		c.catalog = make(map[string]provider.ModelDescriptor, len(models))
		for _, m := range models {
			c.catalog[m.ID] = m
		}
	}
}

var defaultModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "o1", "o1-mini", "text-embedding-3-small"}

// Driver implements provider.Provider against the OpenAI API.
type Driver struct {
	client oai.Client
	cfg    config

	mu      sync.RWMutex
	state   provider.StateBox
	catalog map[string]provider.ModelDescriptor
	enc     *tiktoken.Tiktoken
}

// New constructs a new OpenAI driver. It does not contact the network; call
// Initialize to load the tokenizer and populate the model catalog.
// Credentials are not checked before the first request.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := config{timeout: defaultTimeout, models: defaultModels, providerID: types.OpenAI}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	for k, v := range cfg.extraHeaders {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))

	d := &Driver{client: oai.NewClient(reqOpts...), cfg: cfg, catalog: map[string]provider.ModelDescriptor{}}
	d.state.Store(provider.StateUninitialized)
	return d, nil
}

func (d *Driver) ID() types.ProviderID { return d.cfg.providerID }

// Initialize loads the cl100k_base tokenizer and populates the model
// catalog. The tokenizer is held by the driver only; internal/tokencount
// loads its own encoder.
func (d *Driver) Initialize(ctx context.Context) error {
	d.state.Store(provider.StateInitializing)

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		d.state.Store(provider.StateDegraded)
		return fmt.Errorf("openai: load tokenizer: %w", err)
	}
	d.enc = enc

	d.mu.Lock()
	if d.cfg.catalog != nil {
		for id, md := range d.cfg.catalog {
			d.catalog[id] = md
		}
	} else {
		for _, m := range d.cfg.models {
			d.catalog[m] = modelDescriptor(m, d.cfg.providerID)
		}
	}
	d.mu.Unlock()

	d.state.Store(provider.StateReady)
	return nil
}

// Shutdown moves the driver to Terminated. OpenAI's client holds no
// long-lived connections that need explicit closing.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.state.Store(provider.StateTerminated)
	return nil
}

func (d *Driver) State() provider.State { return d.state.Load() }

func (d *Driver) ListModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]provider.ModelDescriptor, 0, len(d.catalog))
	for _, m := range d.catalog {
		out = append(out, m)
	}
	return out, nil
}

func (d *Driver) SupportsTask(modelID string, kind types.TaskKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.catalog[modelID]
	if !ok {
		return false
	}
	return m.SupportsTask(kind)
}

// Process implements provider.Provider.
func (d *Driver) Process(ctx context.Context, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	if req.Task == types.TaskEmbedding {
		return d.processEmbedding(ctx, req)
	}

	params, err := d.buildParams(req)
	if err != nil {
		return nil, provider.NewError("openai", provider.KindValidation, 0, err)
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, provider.NewError("openai", classifyErr(err), 0, err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewError("openai", provider.KindProviderAPI, 0, fmt.Errorf("empty choices in response"))
	}

	choice := resp.Choices[0]
	return &provider.ProviderResponse{
		Content:          choice.Message.Content,
		ModelID:          req.ModelID,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		FinishReason:     string(choice.FinishReason),
	}, nil
}

func (d *Driver) processEmbedding(ctx context.Context, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	resp, err := d.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(req.ModelID),
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(req.Content)},
	})
	if err != nil {
		return nil, provider.NewError("openai", classifyErr(err), 0, err)
	}
	if len(resp.Data) == 0 {
		return nil, provider.NewError("openai", provider.KindProviderAPI, 0, fmt.Errorf("empty embedding response"))
	}
	return &provider.ProviderResponse{
		ModelID:      req.ModelID,
		TotalTokens:  int(resp.Usage.TotalTokens),
		PromptTokens: int(resp.Usage.PromptTokens),
		StructuredOut: map[string]any{
			"embedding": resp.Data[0].Embedding,
		},
	}, nil
}

// HealthCheck issues a 1-max-token completion against the first available
// chat model, since OpenAI offers no dedicated health endpoint.
func (d *Driver) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	modelID := ""
	for id, m := range d.catalog {
		if m.SupportsTask(types.TaskChat) {
			modelID = id
			break
		}
	}
	d.mu.RUnlock()
	if modelID == "" {
		return fmt.Errorf("openai: no chat-capable model in catalog")
	}

	_, err := d.Process(ctx, provider.ProcessRequest{
		Task:    types.TaskChat,
		ModelID: modelID,
		Messages: []types.Message{{Role: "user", Content: "ping"}},
		Params:  provider.GenerationParams{MaxTokens: 1},
	})
	return err
}

func (d *Driver) buildParams(req provider.ProcessRequest) (oai.ChatCompletionNewParams, error) {
	msgs := provider.BuildMessages(req)
	msgs = provider.MergeConsecutiveSameRole(msgs)

	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.ModelID),
		Messages: messages,
	}
	if req.Params.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Params.Temperature)
	}
	if req.Params.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Params.MaxTokens))
	}
	if req.Params.TopP != 0 {
		params.TopP = param.NewOpt(req.Params.TopP)
	}
	if req.Params.FrequencyPenalty != 0 {
		params.FrequencyPenalty = param.NewOpt(req.Params.FrequencyPenalty)
	}
	if req.Params.PresencePenalty != 0 {
		params.PresencePenalty = param.NewOpt(req.Params.PresencePenalty)
	}
	if len(req.Params.StopSequences) > 0 {
		params.Stop.OfStringArray = req.Params.StopSequences
	}
	return params, nil
}

func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return oai.AssistantMessage(m.Content), nil
	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

func classifyErr(err error) provider.Kind {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyHTTPStatus(apiErr.StatusCode)
	}
	return provider.ClassifyNetworkErr(err)
}

// modelDescriptor returns a ModelDescriptor for a known OpenAI model name,
// mirroring the per-prefix capability table vendors publish for their
// model families.
func modelDescriptor(model string, providerID types.ProviderID) provider.ModelDescriptor {
	md := provider.ModelDescriptor{
		ID:               model,
		ProviderID:       providerID,
		DisplayName:      model,
		MaxContextTokens: 128_000,
		Streaming:        true,
		Functions:        true,
		Available:        true,
		PriorityScore:    1.0,
		Capabilities: map[types.TaskKind]bool{
			types.TaskChat: true, types.TaskTextGeneration: true,
			types.TaskSummarization: true, types.TaskTopicExtraction: true,
			types.TaskClassification: true, types.TaskSensemaking: true,
			types.TaskPlanning: true, types.TaskTranslation: true,
		},
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "text-embedding"):
		md.MaxContextTokens = 8_191
		md.Streaming = false
		md.Functions = false
		md.Capabilities = map[types.TaskKind]bool{types.TaskEmbedding: true}
		md.CostPer1KPrompt = 0.00002
	case strings.HasPrefix(lower, "gpt-4o-mini"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.00015, 0.0006
		md.Vision = true
		md.Capabilities[types.TaskMediaAnalysis] = true
	case strings.HasPrefix(lower, "gpt-4o"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.0025, 0.01
		md.Vision = true
		md.Capabilities[types.TaskMediaAnalysis] = true
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.01, 0.03
		md.Vision = true
		md.Capabilities[types.TaskMediaAnalysis] = true
	case strings.HasPrefix(lower, "o1-mini"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.0011, 0.0044
		md.Functions = false
		md.MaxContextTokens = 128_000
	case strings.HasPrefix(lower, "o1"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.015, 0.06
		md.MaxContextTokens = 200_000
		md.Vision = true
		md.Capabilities[types.TaskMediaAnalysis] = true
	}
	return md
}
