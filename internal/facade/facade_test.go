package facade_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/modelgate/internal/cache"
	"github.com/example/modelgate/internal/config"
	"github.com/example/modelgate/internal/costgate"
	"github.com/example/modelgate/internal/facade"
	"github.com/example/modelgate/internal/ledger"
	"github.com/example/modelgate/internal/registry"
	"github.com/example/modelgate/internal/router"
	"github.com/example/modelgate/internal/session"
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

// stubProvider is a minimal in-memory Provider, mirroring the one in
// internal/router's test suite, so the facade can be exercised end to end
// without any live registry wiring or network access.
type stubProvider struct {
	id     types.ProviderID
	models []provider.ModelDescriptor
	fail   map[string]bool
	delay  time.Duration
	calls  map[string]int
}

func (p *stubProvider) Initialize(ctx context.Context) error { return nil }
func (p *stubProvider) Shutdown(ctx context.Context) error    { return nil }
func (p *stubProvider) ListModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	return p.models, nil
}
func (p *stubProvider) SupportsTask(modelID string, kind types.TaskKind) bool { return true }
func (p *stubProvider) Process(ctx context.Context, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[req.ModelID]++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail[req.ModelID] {
		return nil, &provider.Error{Provider: string(p.id), Kind: provider.KindProviderAPI, Err: errors.New("stub: forced failure")}
	}
	return &provider.ProviderResponse{Content: "ok: " + req.ModelID, ModelID: req.ModelID, TotalTokens: 42, PromptTokens: 30, CompletionTokens: 12}, nil
}
func (p *stubProvider) HealthCheck(ctx context.Context) error { return nil }
func (p *stubProvider) State() provider.State                 { return provider.StateReady }
func (p *stubProvider) ID() types.ProviderID                  { return p.id }

func descriptor(id string, pid types.ProviderID, promptCost, completionCost float64) provider.ModelDescriptor {
	return provider.ModelDescriptor{
		ID:                  id,
		ProviderID:          pid,
		DisplayName:         id,
		MaxContextTokens:    8192,
		Capabilities:        map[types.TaskKind]bool{types.TaskChat: true, types.TaskSummarization: true, types.TaskMediaAnalysis: true},
		Vision:              true,
		CostPer1KPrompt:     promptCost,
		CostPer1KCompletion: completionCost,
		PriorityScore:       1.0,
		Available:           true,
	}
}

type harness struct {
	facade *facade.Facade
	reg    *registry.Registry
	store  *session.Store
}

func newHarness(t *testing.T, stubs map[string]*stubProvider) *harness {
	t.Helper()
	led := ledger.New()
	cfg := &config.Config{Providers: make(map[string]config.ProviderEntry), Registry: config.RegistryConfig{HealthCheckIntervalSeconds: 3600}}

	drivers := make(map[string]provider.Provider, len(stubs))
	for name, s := range stubs {
		drivers[name] = s
		cfg.Providers[name] = config.ProviderEntry{APIKey: "test-key"}
	}

	reg, err := registry.NewFromProviders(context.Background(), drivers, cfg, led)
	if err != nil {
		t.Fatalf("registry.NewFromProviders() error = %v", err)
	}
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })

	gate := costgate.New()
	rt := router.New(reg, gate)
	c := cache.New()
	t.Cleanup(c.Stop)
	store := session.NewStore(8192, facade.NewSummarizer(rt, reg))
	t.Cleanup(store.Stop)

	return &harness{facade: facade.New(reg, rt, c, gate, store), reg: reg, store: store}
}

// Scenario: a happy-path free-tier chat request succeeds and is cached.
func TestProcess_HappyPath_FreeTier(t *testing.T) {
	h := newHarness(t, map[string]*stubProvider{
		"openai": {id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-cheap", types.OpenAI, 0.0001, 0.0001)}},
	})

	resp, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hello", UserID: "u1", UserTier: types.TierFree,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Content == "" || resp.Cached {
		t.Fatalf("unexpected first response: %+v", resp)
	}

	resp2, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hello", UserID: "u1", UserTier: types.TierFree,
	})
	if err != nil {
		t.Fatalf("Process() (repeat) error = %v", err)
	}
	if !resp2.Cached {
		t.Fatal("expected the second identical request to be served from cache")
	}
}

// Scenario: a request whose estimated cost exceeds the free tier's
// per-request cap is refused with KindCostLimitExceeded, never reaching a
// driver.
func TestProcess_CostRefusal_FreeTier(t *testing.T) {
	sp := &stubProvider{id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-expensive", types.OpenAI, 50.0, 50.0)}}
	h := newHarness(t, map[string]*stubProvider{"openai": sp})

	_, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hello", UserID: "u1", UserTier: types.TierFree,
	})
	if err == nil {
		t.Fatal("expected a cost-ceiling refusal")
	}
	var gwErr *facade.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error is not a *GatewayError: %v", err)
	}
	if gwErr.Kind != facade.KindCostLimitExceeded {
		t.Errorf("Kind = %v, want KindCostLimitExceeded", gwErr.Kind)
	}
	if sp.calls["gpt-expensive"] != 0 {
		t.Error("a refused request must never reach the driver")
	}
}

// Scenario: a pinned model fails with a fallback-eligible error, so the
// facade retries once more with the pin removed and succeeds against a
// healthy model.
func TestProcess_FallbackCascade_PinningRemoved(t *testing.T) {
	sp := &stubProvider{
		id: types.OpenAI,
		models: []provider.ModelDescriptor{
			descriptor("pinned-broken", types.OpenAI, 0.0001, 0.0001),
			descriptor("healthy", types.OpenAI, 0.0001, 0.0001),
		},
		fail: map[string]bool{"pinned-broken": true},
	}
	h := newHarness(t, map[string]*stubProvider{"openai": sp})

	resp, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hello", UserID: "u1", UserTier: types.TierMeowtrix,
		PinnedModel: "pinned-broken",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.ModelID != "healthy" {
		t.Errorf("ModelID = %q, want healthy (after falling back from the broken pin)", resp.ModelID)
	}
}

// Scenario: a free-tier caller pins a model whose unit cost exceeds the
// tier's cost ceiling. Pinning bypasses the Router's preference defaults
// but never the tier gate, so this must be refused as KindTierForbidden
// before the driver is ever called — not silently admitted because the
// downstream per-request cost cap happens to be wide enough.
func TestProcess_PinnedModel_TierForbidden(t *testing.T) {
	sp := &stubProvider{id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-4o", types.OpenAI, 0.01, 0.01)}}
	h := newHarness(t, map[string]*stubProvider{"openai": sp})

	_, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hello", UserID: "u1", UserTier: types.TierFree,
		PinnedModel: "gpt-4o",
	})
	if err == nil {
		t.Fatal("expected a tier-forbidden refusal for a pinned model above the free tier's cost ceiling")
	}
	var gwErr *facade.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error is not a *GatewayError: %v", err)
	}
	if gwErr.Kind != facade.KindTierForbidden {
		t.Errorf("Kind = %v, want KindTierForbidden", gwErr.Kind)
	}
	if sp.calls["gpt-4o"] != 0 {
		t.Error("a tier-forbidden pinned model must never reach the driver")
	}
}

// Scenario: a pinned model that does not support the requested task is
// refused as KindTaskNotSupported before any driver call.
func TestProcess_PinnedModel_TaskNotSupported(t *testing.T) {
	sp := &stubProvider{id: types.OpenAI, models: []provider.ModelDescriptor{{
		ID: "embed-only", ProviderID: types.OpenAI, DisplayName: "embed-only",
		MaxContextTokens: 8192, Available: true, PriorityScore: 1.0,
		Capabilities: map[types.TaskKind]bool{types.TaskEmbedding: true},
	}}}
	h := newHarness(t, map[string]*stubProvider{"openai": sp})

	_, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hello", UserID: "u1", UserTier: types.TierMeowtrix,
		PinnedModel: "embed-only",
	})
	if err == nil {
		t.Fatal("expected a task-not-supported refusal for a pinned model that can't serve chat")
	}
	var gwErr *facade.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error is not a *GatewayError: %v", err)
	}
	if gwErr.Kind != facade.KindTaskNotSupported {
		t.Errorf("Kind = %v, want KindTaskNotSupported", gwErr.Kind)
	}
	if sp.calls["embed-only"] != 0 {
		t.Error("a task-not-supported pinned model must never reach the driver")
	}
}

// Scenario: a tier without media-capable access cannot reach a vision-gated
// model and is refused before any driver call.
func TestProcess_TierForbidden_NoMatchingCandidate(t *testing.T) {
	sp := &stubProvider{id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-vision", types.OpenAI, 50.0, 50.0)}}
	h := newHarness(t, map[string]*stubProvider{"openai": sp})

	_, err := h.facade.ProcessMedia(context.Background(), facade.MediaRequest{
		ProcessRequest: facade.ProcessRequest{Task: types.TaskMediaAnalysis, UserID: "u1", UserTier: types.TierFree},
		MediaBytes:     []byte{0xFF, 0xD8},
		MediaMIME:      "image/jpeg",
	})
	if err == nil {
		t.Fatal("expected a refusal when no candidate fits the free tier's cost ceiling")
	}
}

// Scenario: processWithModels fans a request out to several pinned pairs in
// parallel and reports every outcome, not just the first.
func TestProcessWithModels_ParallelFanOut(t *testing.T) {
	h := newHarness(t, map[string]*stubProvider{
		"openai":    {id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-a", types.OpenAI, 0.0001, 0.0001)}},
		"anthropic": {id: types.Anthropic, models: []provider.ModelDescriptor{descriptor("claude-a", types.Anthropic, 0.0001, 0.0001)}},
	})

	results, err := h.facade.ProcessWithModels(context.Background(), facade.ModelsRequest{
		ProcessRequest: facade.ProcessRequest{Task: types.TaskChat, Content: "compare", UserID: "u1", UserTier: types.TierMeowtrix},
		Pairs: []facade.ModelPair{
			{ProviderID: types.OpenAI, ModelID: "gpt-a"},
			{ProviderID: types.Anthropic, ModelID: "claude-a"},
		},
	})
	if err != nil {
		t.Fatalf("ProcessWithModels() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("pair %+v failed: %v", r.Pair, r.Err)
		}
	}
}

// Scenario: a request whose context is canceled before a driver responds
// surfaces as KindDeadlineExceeded rather than hanging.
func TestProcess_DeadlineExceeded(t *testing.T) {
	sp := &stubProvider{id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("slow", types.OpenAI, 0.0001, 0.0001)}, delay: 50 * time.Millisecond}
	h := newHarness(t, map[string]*stubProvider{"openai": sp})

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()

	_, err := h.facade.Process(ctx, facade.ProcessRequest{
		Task: types.TaskChat, Content: "hello", UserID: "u1", UserTier: types.TierMeowtrix,
	})
	if err == nil {
		t.Fatal("expected a deadline error")
	}
	var gwErr *facade.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error is not a *GatewayError: %v", err)
	}
	if gwErr.Kind != facade.KindDeadlineExceeded {
		t.Errorf("Kind = %v, want KindDeadlineExceeded", gwErr.Kind)
	}
}

func TestCreateAndDeleteSession_RoundTrip(t *testing.T) {
	h := newHarness(t, map[string]*stubProvider{
		"openai": {id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-a", types.OpenAI, 0.0001, 0.0001)}},
	})

	h.facade.CreateSession("sess-1")
	if _, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hi", SessionID: "sess-1", UserID: "u1", UserTier: types.TierMeowtrix,
	}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	h.facade.DeleteSession("sess-1")
	if !h.store.Context("sess-1").Empty() {
		t.Fatal("expected no observable state after DeleteSession")
	}
}

func TestSetTaskModelPreferences_PinsSubsequentRequests(t *testing.T) {
	h := newHarness(t, map[string]*stubProvider{
		"openai": {id: types.OpenAI, models: []provider.ModelDescriptor{
			descriptor("gpt-a", types.OpenAI, 0.0001, 0.0001),
			descriptor("gpt-b", types.OpenAI, 0.0001, 0.0001),
		}},
	})

	h.facade.CreateSession("sess-1")
	if err := h.facade.SetTaskModelPreferences("sess-1", types.TaskChat, "gpt-b"); err != nil {
		t.Fatalf("SetTaskModelPreferences() error = %v", err)
	}

	resp, err := h.facade.Process(context.Background(), facade.ProcessRequest{
		Task: types.TaskChat, Content: "hi", SessionID: "sess-1", UserID: "u1", UserTier: types.TierMeowtrix,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.ModelID != "gpt-b" {
		t.Errorf("ModelID = %q, want gpt-b (the session's pinned preference)", resp.ModelID)
	}
}

func TestListModels_ReturnsRegistryCatalog(t *testing.T) {
	h := newHarness(t, map[string]*stubProvider{
		"openai": {id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-a", types.OpenAI, 0.0001, 0.0001)}},
	})
	models := h.facade.ListModels()
	if len(models) != 1 || models[0].ID != "gpt-a" {
		t.Fatalf("ListModels() = %+v, want a single gpt-a entry", models)
	}
}

func TestGetPerformanceMetrics_UnknownModelErrors(t *testing.T) {
	h := newHarness(t, map[string]*stubProvider{
		"openai": {id: types.OpenAI, models: []provider.ModelDescriptor{descriptor("gpt-a", types.OpenAI, 0.0001, 0.0001)}},
	})
	if _, err := h.facade.GetPerformanceMetrics("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown model id")
	}
}
