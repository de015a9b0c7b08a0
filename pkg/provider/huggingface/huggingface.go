// Package huggingface implements provider.Provider against the Hugging
// Face Inference API. Unlike the chat-completions vendors, each task kind
// uses a distinct wire envelope (text-generation, zero-shot-classification,
// feature-extraction), so this driver builds and parses each by hand
// rather than reusing a shared request shape.
package huggingface

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

const defaultBaseURL = "https://api-inference.huggingface.co/models"

type config struct {
	baseURL string
	timeout time.Duration
	models  []string
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the default Inference API base URL.
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

var defaultModels = []string{
	"facebook/bart-large-cnn",
	"facebook/bart-large-mnli",
	"sentence-transformers/all-MiniLM-L6-v2",
}

// Driver implements provider.Provider against the Hugging Face Inference
// API via a raw HTTP client, one model URL per request.
type Driver struct {
	apiKey  string
	baseURL string
	http    *http.Client

	mu      sync.RWMutex
	state   provider.StateBox
	catalog map[string]provider.ModelDescriptor
}

// New constructs a Hugging Face driver.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("huggingface: apiKey must not be empty")
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

func (d *Driver) ID() types.ProviderID { return types.HuggingFace }

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
	switch req.Task {
	case types.TaskClassification:
		return d.classify(ctx, req)
	case types.TaskEmbedding:
		return d.embed(ctx, req)
	default:
		return d.generate(ctx, req)
	}
}

func (d *Driver) generate(ctx context.Context, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	content := req.Content
	if content == "" {
		var sb strings.Builder
		for _, m := range provider.BuildMessages(req) {
			sb.WriteString(m.Role)
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		content = sb.String()
	}

	params := map[string]any{}
	if req.Params.MaxTokens > 0 {
		params["max_new_tokens"] = req.Params.MaxTokens
	}
	if req.Params.Temperature != 0 {
		params["temperature"] = req.Params.Temperature
	}
	if req.Params.TopP != 0 {
		params["top_p"] = req.Params.TopP
	}

	body := map[string]any{"inputs": content, "parameters": params}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, provider.NewError("huggingface", provider.KindValidation, 0, err)
	}

	data, status, err := d.post(ctx, req.ModelID, payload)
	if err != nil {
		return nil, provider.NewError("huggingface", provider.ClassifyNetworkErr(err), 0, err)
	}
	if status != http.StatusOK {
		return nil, parseAPIError(status, data)
	}

	text := gjson.GetBytes(data, "0.generated_text").String()
	if text == "" {
		text = gjson.GetBytes(data, "generated_text").String()
	}

	return &provider.ProviderResponse{
		Content:     text,
		ModelID:     req.ModelID,
		TotalTokens: provider.EstimateTokensHeuristic(content) + provider.EstimateTokensHeuristic(text),
	}, nil
}

func (d *Driver) classify(ctx context.Context, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	if len(req.Labels) == 0 {
		return nil, provider.NewError("huggingface", provider.KindValidation, 0, fmt.Errorf("classification requires candidate labels"))
	}
	body := map[string]any{
		"inputs": req.Content,
		"parameters": map[string]any{
			"candidate_labels": req.Labels,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, provider.NewError("huggingface", provider.KindValidation, 0, err)
	}

	data, status, err := d.post(ctx, req.ModelID, payload)
	if err != nil {
		return nil, provider.NewError("huggingface", provider.ClassifyNetworkErr(err), 0, err)
	}
	if status != http.StatusOK {
		return nil, parseAPIError(status, data)
	}

	r := gjson.ParseBytes(data)
	labels := r.Get("labels").Array()
	scores := r.Get("scores").Array()
	out := make(map[string]any, len(labels))
	for i, l := range labels {
		score := 0.0
		if i < len(scores) {
			score = scores[i].Float()
		}
		out[l.String()] = score
	}

	topLabel := ""
	if len(labels) > 0 {
		topLabel = labels[0].String()
	}

	return &provider.ProviderResponse{
		Content:       topLabel,
		ModelID:       req.ModelID,
		StructuredOut: map[string]any{"scores": out},
	}, nil
}

func (d *Driver) embed(ctx context.Context, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	body := map[string]any{"inputs": req.Content}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, provider.NewError("huggingface", provider.KindValidation, 0, err)
	}

	data, status, err := d.post(ctx, req.ModelID, payload)
	if err != nil {
		return nil, provider.NewError("huggingface", provider.ClassifyNetworkErr(err), 0, err)
	}
	if status != http.StatusOK {
		return nil, parseAPIError(status, data)
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, provider.NewError("huggingface", provider.KindProviderAPI, status, fmt.Errorf("unexpected embedding shape: %w", err))
	}

	return &provider.ProviderResponse{
		ModelID:       req.ModelID,
		StructuredOut: map[string]any{"embedding": vec},
	}, nil
}

// HealthCheck issues a 1-token generation request against the first
// generation-capable model, since the Inference API has no single
// dedicated health endpoint spanning every task pipeline.
func (d *Driver) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	modelID := ""
	for id, m := range d.catalog {
		if m.SupportsTask(types.TaskSummarization) || m.SupportsTask(types.TaskTextGeneration) {
			modelID = id
			break
		}
	}
	d.mu.RUnlock()
	if modelID == "" {
		return fmt.Errorf("huggingface: no generation-capable model in catalog")
	}
	_, err := d.generate(ctx, provider.ProcessRequest{
		Task:    types.TaskSummarization,
		ModelID: modelID,
		Content: "ping",
		Params:  provider.GenerationParams{MaxTokens: 1},
	})
	return err
}

func (d *Driver) post(ctx context.Context, model string, body []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/"+model, bytes.NewReader(body))
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
	msg := gjson.GetBytes(data, "error").String()
	if msg == "" {
		msg = string(data)
	}
	return provider.NewError("huggingface", provider.ClassifyHTTPStatus(status), status, fmt.Errorf("%s", msg))
}

func modelDescriptor(model string) provider.ModelDescriptor {
	md := provider.ModelDescriptor{
		ID:               model,
		ProviderID:       types.HuggingFace,
		DisplayName:      model,
		MaxContextTokens: 4_096,
		Streaming:        false,
		Functions:        false,
		Available:        true,
		PriorityScore:    0.7,
		CostPer1KPrompt:  0.0001,
		CostPer1KCompletion: 0.0001,
	}
	switch {
	case strings.Contains(model, "mnli"):
		md.Capabilities = map[types.TaskKind]bool{types.TaskClassification: true}
	case strings.Contains(model, "MiniLM"):
		md.Capabilities = map[types.TaskKind]bool{types.TaskEmbedding: true}
		md.CostPer1KCompletion = 0
	default:
		md.Capabilities = map[types.TaskKind]bool{
			types.TaskSummarization: true, types.TaskTextGeneration: true, types.TaskTopicExtraction: true,
		}
	}
	return md
}
