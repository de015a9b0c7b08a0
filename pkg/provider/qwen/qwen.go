// Package qwen implements provider.Provider against Alibaba's native
// DashScope generation API for the Qwen model family, using a raw HTTP
// client since Qwen's request/response envelope — a nested
// {input:{messages}, parameters} body and an {output:{text}, usage} reply —
// differs entirely from the OpenAI wire format.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

const defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

const generationPath = "/services/aigc/text-generation/generation"

type config struct {
	baseURL string
	timeout time.Duration
	models  []string
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default DashScope base URL.
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

var defaultModels = []string{"qwen-max", "qwen-plus", "qwen-turbo"}

// Driver implements provider.Provider against DashScope's native
// text-generation endpoint via a raw HTTP client.
type Driver struct {
	apiKey  string
	baseURL string
	http    *http.Client

	mu      sync.RWMutex
	state   provider.StateBox
	catalog map[string]provider.ModelDescriptor
}

// New constructs a Qwen driver.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("qwen: apiKey must not be empty")
	}
	cfg := config{baseURL: defaultBaseURL, timeout: 60 * time.Second, models: defaultModels}
	for _, o := range opts {
		o(&cfg)
	}

	d := &Driver{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(cfg.baseURL, "/"),
		http:    &http.Client{Timeout: cfg.timeout},
		catalog: map[string]provider.ModelDescriptor{},
	}
	for _, m := range cfg.models {
		d.catalog[m] = modelDescriptor(m)
	}
	d.state.Store(provider.StateUninitialized)
	return d, nil
}

func (d *Driver) ID() types.ProviderID { return types.Qwen }

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
	msgs = provider.MergeConsecutiveSameRole(msgs)

	wireMsgs := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		wireMsgs = append(wireMsgs, map[string]string{"role": m.Role, "content": m.Content})
	}

	parameters := map[string]any{}
	if req.Params.Temperature != 0 {
		parameters["temperature"] = req.Params.Temperature
	}
	if req.Params.TopP != 0 {
		parameters["top_p"] = req.Params.TopP
	}
	if req.Params.MaxTokens > 0 {
		parameters["max_tokens"] = req.Params.MaxTokens
	}
	if len(req.Params.StopSequences) > 0 {
		parameters["stop"] = req.Params.StopSequences
	}

	body := map[string]any{
		"model":      req.ModelID,
		"input":      map[string]any{"messages": wireMsgs},
		"parameters": parameters,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, provider.NewError("qwen", provider.KindValidation, 0, err)
	}

	data, status, err := d.post(ctx, generationPath, payload)
	if err != nil {
		return nil, provider.NewError("qwen", provider.ClassifyNetworkErr(err), 0, err)
	}
	if status != http.StatusOK {
		return nil, parseAPIError(status, data)
	}

	r := gjson.ParseBytes(data)
	output := r.Get("output")
	content := output.Get("text").String()
	if content == "" && !output.Get("text").Exists() {
		return nil, provider.NewError("qwen", provider.KindProviderAPI, status, fmt.Errorf("missing output.text"))
	}

	finishReason := output.Get("finish_reason").String()
	if finishReason == "" {
		finishReason = "completed"
	}
	usage := r.Get("usage")

	return &provider.ProviderResponse{
		Content:          content,
		ModelID:          req.ModelID,
		PromptTokens:     int(usage.Get("input_tokens").Int()),
		CompletionTokens: int(usage.Get("output_tokens").Int()),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
		FinishReason:     finishReason,
	}, nil
}

// HealthCheck issues a 1-max-token chat request, since DashScope exposes no
// dedicated health endpoint for the generation API.
func (d *Driver) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	modelID := ""
	for id := range d.catalog {
		modelID = id
		break
	}
	d.mu.RUnlock()
	if modelID == "" {
		return fmt.Errorf("qwen: empty model catalog")
	}
	_, err := d.Process(ctx, provider.ProcessRequest{
		Task:     types.TaskChat,
		ModelID:  modelID,
		Messages: []types.Message{{Role: "user", Content: "ping"}},
		Params:   provider.GenerationParams{MaxTokens: 1},
	})
	return err
}

func (d *Driver) post(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func parseAPIError(status int, data []byte) error {
	msg := gjson.GetBytes(data, "error.message").String()
	if msg == "" {
		msg = string(data)
	}
	return provider.NewError("qwen", provider.ClassifyHTTPStatus(status), status, fmt.Errorf("%s", msg))
}

func modelDescriptor(model string) provider.ModelDescriptor {
	md := provider.ModelDescriptor{
		ID:               model,
		ProviderID:       types.Qwen,
		DisplayName:      model,
		MaxContextTokens: 32_000,
		Streaming:        true,
		Functions:        false,
		Available:        true,
		PriorityScore:    0.9,
		Capabilities: map[types.TaskKind]bool{
			types.TaskChat: true, types.TaskTextGeneration: true,
			types.TaskTranslation: true, types.TaskSummarization: true,
			types.TaskClassification: true,
		},
	}
	switch model {
	case "qwen-max":
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.0016, 0.0064
		md.MaxContextTokens = 32_000
	case "qwen-plus":
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.0008, 0.002
		md.MaxContextTokens = 128_000
	case "qwen-turbo":
		md.CostPer1KPrompt, md.CostPer1KCompletion = 0.0003, 0.0006
		md.MaxContextTokens = 1_000_000
	}
	return md
}
