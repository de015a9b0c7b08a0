// Package anthropic implements provider.Provider against Anthropic's
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

const defaultTimeout = 60 * time.Second

type config struct {
	baseURL string
	timeout time.Duration
	models  []string
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithModels overrides the catalog of model IDs the driver advertises.
func WithModels(models ...string) Option {
	return func(c *config) { c.models = models }
}

var defaultModels = []string{"claude-opus-4-1", "claude-sonnet-4-5", "claude-haiku-4-5"}

// Driver implements provider.Provider against the Anthropic Messages API.
type Driver struct {
	client anthropic.Client

	mu      sync.RWMutex
	state   provider.StateBox
	catalog map[string]provider.ModelDescriptor
}

// New constructs a new Anthropic driver. It does not contact the network;
// call Initialize to populate the model catalog.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}

	cfg := config{timeout: defaultTimeout, models: defaultModels}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))

	d := &Driver{client: anthropic.NewClient(reqOpts...), catalog: map[string]provider.ModelDescriptor{}}
	for _, m := range cfg.models {
		d.catalog[m] = modelDescriptor(m)
	}
	d.state.Store(provider.StateUninitialized)
	return d, nil
}

func (d *Driver) ID() types.ProviderID { return types.Anthropic }

func (d *Driver) Initialize(ctx context.Context) error {
	d.state.Store(provider.StateReady)
	return nil
}

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
	return ok && m.SupportsTask(kind)
}

func (d *Driver) Process(ctx context.Context, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	msgs := provider.BuildMessages(req)
	system, rest := provider.SplitSystem(msgs)
	rest = provider.EnsureAlternation(rest)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelID),
		MaxTokens: int64(maxTokensOrDefault(req.Params.MaxTokens)),
		Messages:  make([]anthropic.MessageParam, 0, len(rest)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Params.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Params.Temperature)
	}
	if req.Params.TopP != 0 {
		params.TopP = anthropic.Float(req.Params.TopP)
	}
	if len(req.Params.StopSequences) > 0 {
		params.StopSequences = req.Params.StopSequences
	}

	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "user":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			return nil, provider.NewError("anthropic", provider.KindValidation, 0,
				fmt.Errorf("unsupported message role %q after alternation fixup", m.Role))
		}
	}

	resp, err := d.client.Messages.New(ctx, params)
	if err != nil {
		return nil, provider.NewError("anthropic", classifyErr(err), 0, err)
	}
	if len(resp.Content) == 0 {
		return nil, provider.NewError("anthropic", provider.KindProviderAPI, 0, fmt.Errorf("empty content in response"))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &provider.ProviderResponse{
		Content:          sb.String(),
		ModelID:          req.ModelID,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		FinishReason:     string(resp.StopReason),
	}, nil
}

// HealthCheck issues a 1-max-token message against the first catalog model,
// since Anthropic offers no dedicated health endpoint.
func (d *Driver) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	modelID := ""
	for id := range d.catalog {
		modelID = id
		break
	}
	d.mu.RUnlock()
	if modelID == "" {
		return fmt.Errorf("anthropic: empty model catalog")
	}

	_, err := d.Process(ctx, provider.ProcessRequest{
		Task:     types.TaskChat,
		ModelID:  modelID,
		Messages: []types.Message{{Role: "user", Content: "ping"}},
		Params:   provider.GenerationParams{MaxTokens: 1},
	})
	return err
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

func classifyErr(err error) provider.Kind {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyHTTPStatus(apiErr.StatusCode)
	}
	return provider.ClassifyNetworkErr(err)
}

func modelDescriptor(model string) provider.ModelDescriptor {
	md := provider.ModelDescriptor{
		ID:               model,
		ProviderID:       types.Anthropic,
		DisplayName:      model,
		MaxContextTokens: 200_000,
		Streaming:        true,
		Functions:        true,
		Vision:           true,
		Available:        true,
		PriorityScore:    1.0,
		Capabilities: map[types.TaskKind]bool{
			types.TaskChat: true, types.TaskTextGeneration: true,
			types.TaskSummarization: true, types.TaskTopicExtraction: true,
			types.TaskClassification: true, types.TaskSensemaking: true,
			types.TaskPlanning: true, types.TaskTranslation: true,
			types.TaskMediaAnalysis: true,
		},
	}
	switch {
	case strings.Contains(model, "opus"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.015, 0.075
		md.PriorityScore = 1.3
	case strings.Contains(model, "sonnet"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.003, 0.015
		md.PriorityScore = 1.1
	case strings.Contains(model, "haiku"):
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.0008, 0.004
		md.PriorityScore = 0.9
	}
	return md
}
