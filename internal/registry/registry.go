// Package registry constructs vendor drivers from configuration, maintains
// the federation's combined model catalog, and runs the periodic health
// check loop that keeps each driver's lifecycle state current.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/example/modelgate/internal/config"
	"github.com/example/modelgate/internal/ledger"
	"github.com/example/modelgate/internal/resilience"
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
	"github.com/example/modelgate/pkg/provider/anthropic"
	"github.com/example/modelgate/pkg/provider/deepseek"
	"github.com/example/modelgate/pkg/provider/huggingface"
	"github.com/example/modelgate/pkg/provider/mistral"
	"github.com/example/modelgate/pkg/provider/openai"
	"github.com/example/modelgate/pkg/provider/openrouter"
	"github.com/example/modelgate/pkg/provider/qwen"
)

// Factory constructs a driver from its configuration entry.
type Factory func(entry config.ProviderEntry) (provider.Provider, error)

// defaultFactories maps each known vendor key to its driver constructor. A
// factory is consulted only when the corresponding config.ProviderEntry
// passes IsEnabled.
var defaultFactories = map[string]Factory{
	"openai": func(e config.ProviderEntry) (provider.Provider, error) {
		return openai.New(e.APIKey, openaiOptions(e)...)
	},
	"anthropic": func(e config.ProviderEntry) (provider.Provider, error) {
		var opts []anthropic.Option
		if e.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(e.BaseURL))
		}
		if e.Timeout > 0 {
			opts = append(opts, anthropic.WithTimeout(e.Timeout))
		}
		if len(e.Models) > 0 {
			opts = append(opts, anthropic.WithModels(e.Models...))
		}
		return anthropic.New(e.APIKey, opts...)
	},
	"mistral": func(e config.ProviderEntry) (provider.Provider, error) {
		return mistral.New(e.APIKey, restrictOpenAIOptions(e)...)
	},
	"deepseek": func(e config.ProviderEntry) (provider.Provider, error) {
		return deepseek.New(e.APIKey, restrictOpenAIOptions(e)...)
	},
	"openrouter": func(e config.ProviderEntry) (provider.Provider, error) {
		return openrouter.New(e.APIKey, openrouter.Config{Referer: e.Referer, Title: e.Title}, restrictOpenAIOptions(e)...)
	},
	"qwen": func(e config.ProviderEntry) (provider.Provider, error) {
		var opts []qwen.Option
		if e.BaseURL != "" {
			opts = append(opts, qwen.WithBaseURL(e.BaseURL))
		}
		if e.Timeout > 0 {
			opts = append(opts, qwen.WithTimeout(e.Timeout))
		}
		if len(e.Models) > 0 {
			opts = append(opts, qwen.WithModels(e.Models...))
		}
		return qwen.New(e.APIKey, opts...)
	},
	"huggingface": func(e config.ProviderEntry) (provider.Provider, error) {
		var opts []huggingface.Option
		if e.BaseURL != "" {
			opts = append(opts, huggingface.WithBaseURL(e.BaseURL))
		}
		if e.Timeout > 0 {
			opts = append(opts, huggingface.WithTimeout(e.Timeout))
		}
		if len(e.Models) > 0 {
			opts = append(opts, huggingface.WithModels(e.Models...))
		}
		return huggingface.New(e.APIKey, opts...)
	},
}

func openaiOptions(e config.ProviderEntry) []openai.Option {
	var opts []openai.Option
	if e.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(e.BaseURL))
	}
	if e.OrganizationID != "" {
		opts = append(opts, openai.WithOrganization(e.OrganizationID))
	}
	if e.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(e.Timeout))
	}
	if len(e.Models) > 0 {
		opts = append(opts, openai.WithModels(e.Models...))
	}
	return opts
}

// restrictOpenAIOptions builds the subset of openai.Option usable by the
// OpenAI-compatible vendor wrappers (Mistral, DeepSeek, OpenRouter), which
// fix their own base URL, provider ID, and model catalog.
func restrictOpenAIOptions(e config.ProviderEntry) []openai.Option {
	var opts []openai.Option
	if e.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(e.Timeout))
	}
	return opts
}

// providerEntry bundles a live driver with its per-provider concurrency
// guard and circuit breaker.
type providerEntry struct {
	driver  provider.Provider
	limiter *semaphore.Weighted
	breaker *resilience.CircuitBreaker
	weight  float64
}

// Registry holds every constructed vendor driver, the combined model
// catalog, and the shared Performance Ledger. It runs a background health
// check loop and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[types.ProviderID]*providerEntry
	catalog  map[string]provider.ModelDescriptor // modelID -> descriptor
	ledger   *ledger.Ledger
	cfg      config.RegistryConfig

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Registry from cfg, instantiating and initializing one
// driver per enabled provider entry via defaultFactories. A provider whose
// Initialize call fails is logged and skipped rather than aborting the
// whole registry — the gateway should come up with whichever vendors are
// reachable.
func New(ctx context.Context, cfg *config.Config, led *ledger.Ledger) (*Registry, error) {
	drivers := make(map[string]provider.Provider, len(cfg.Providers))
	for name, entry := range cfg.Providers {
		if !entry.IsEnabled() {
			continue
		}
		factory, ok := defaultFactories[name]
		if !ok {
			slog.Warn("registry: no driver factory for configured provider", "provider", name)
			continue
		}
		drv, err := factory(entry)
		if err != nil {
			slog.Error("registry: failed to construct provider driver", "provider", name, "error", err)
			continue
		}
		drivers[name] = drv
	}
	return NewFromProviders(ctx, drivers, cfg, led)
}

// NewFromProviders builds a Registry directly from already-constructed
// drivers, keyed by the same provider names used in config.Config.Providers
// (whose entries still supply the priority weight, concurrency limit, and
// other per-provider settings). This is the constructor New delegates to
// after resolving each factory; it is also the injection point integration
// tests use to wire in stub providers without touching any vendor SDK.
func NewFromProviders(ctx context.Context, drivers map[string]provider.Provider, cfg *config.Config, led *ledger.Ledger) (*Registry, error) {
	r := &Registry{
		entries: make(map[types.ProviderID]*providerEntry),
		catalog: make(map[string]provider.ModelDescriptor),
		ledger:  led,
		cfg:     cfg.Registry,
		done:    make(chan struct{}),
	}

	concurrency := cfg.Registry.OutboundConcurrencyPerProvider
	if concurrency <= 0 {
		concurrency = 32
	}

	for name, drv := range drivers {
		entry := cfg.Providers[name]
		if err := drv.Initialize(ctx); err != nil {
			slog.Error("registry: failed to initialize provider", "provider", name, "error", err)
			continue
		}

		weight := entry.PriorityWeight
		if weight <= 0 {
			weight = 1.0
		}

		r.entries[drv.ID()] = &providerEntry{
			driver:  drv,
			limiter: semaphore.NewWeighted(int64(concurrency)),
			breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: string(drv.ID())}),
			weight:  weight,
		}

		models, err := drv.ListModels(ctx)
		if err != nil {
			slog.Error("registry: failed to list models", "provider", name, "error", err)
			continue
		}
		r.mu.Lock()
		for _, m := range models {
			if err := m.Validate(); err != nil {
				slog.Warn("registry: skipping invalid model descriptor", "error", err)
				continue
			}
			m.PriorityScore *= weight
			r.catalog[m.ID] = m
		}
		r.mu.Unlock()
	}

	if len(r.entries) == 0 {
		slog.Warn("registry: no providers were successfully initialized")
	}

	go r.healthCheckLoop()
	return r, nil
}

// Provider returns the live driver for id, or false if it is not registered.
func (r *Registry) Provider(id types.ProviderID) (provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.driver, true
}

// ModelDescriptor returns the catalog entry for modelID.
func (r *Registry) ModelDescriptor(modelID string) (provider.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.catalog[modelID]
	return m, ok
}

// Models returns every model in the combined catalog, across all providers.
func (r *Registry) Models() []provider.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ModelDescriptor, 0, len(r.catalog))
	for _, m := range r.catalog {
		out = append(out, m)
	}
	return out
}

// ModelsForTask returns every catalog model supporting kind, from a provider
// that is currently accepting Process calls.
func (r *Registry) ModelsForTask(kind types.TaskKind) []provider.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ModelDescriptor, 0)
	for _, m := range r.catalog {
		if !m.Available || !m.SupportsTask(kind) {
			continue
		}
		e, ok := r.entries[m.ProviderID]
		if !ok || !e.driver.State().AcceptsProcess() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Ledger returns the shared Performance Ledger.
func (r *Registry) Ledger() *ledger.Ledger { return r.ledger }

// Process dispatches req to modelID's owning provider, gated by that
// provider's outbound concurrency semaphore and circuit breaker, and
// records the outcome in the ledger.
func (r *Registry) Process(ctx context.Context, modelID string, req provider.ProcessRequest) (*provider.ProviderResponse, error) {
	r.mu.RLock()
	m, ok := r.catalog[modelID]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("registry: unknown model %q", modelID)
	}
	e, ok := r.entries[m.ProviderID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: provider %q not registered", m.ProviderID)
	}
	req.ModelID = modelID

	if err := e.limiter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.limiter.Release(1)

	start := time.Now()
	var resp *provider.ProviderResponse
	callErr := e.breaker.Execute(func() error {
		var innerErr error
		resp, innerErr = e.driver.Process(ctx, req)
		return innerErr
	})
	latency := time.Since(start)

	outcome := ledger.Outcome{Success: callErr == nil, LatencyMS: float64(latency.Milliseconds()), At: start}
	if callErr != nil {
		if pe, ok := provider.AsProviderError(callErr); ok {
			outcome.ErrorKind = pe.Kind.String()
		} else {
			outcome.ErrorKind = "circuit_open"
		}
	}
	r.ledger.RecordOutcome(modelID, outcome)

	if callErr != nil {
		return nil, callErr
	}
	return resp, nil
}

// healthCheckLoop periodically probes every registered provider, downgrading
// its advertised models' Available flag when a check fails. The interval is
// the registry's configured health_check_interval_seconds (default 300s);
// each provider is checked independently so one slow vendor never delays
// the others' checks.
func (r *Registry) healthCheckLoop() {
	interval := time.Duration(r.cfg.HealthCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.checkAll()
		}
	}
}

func (r *Registry) checkAll() {
	r.mu.RLock()
	entries := make([]*providerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *providerEntry) {
			defer wg.Done()
			r.checkOne(e)
		}(e)
	}
	wg.Wait()
}

func (r *Registry) checkOne(e *providerEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.driver.HealthCheck(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.catalog {
		if m.ProviderID != e.driver.ID() {
			continue
		}
		m.Available = err == nil
		r.catalog[id] = m
	}
	if err != nil {
		slog.Warn("registry: health check failed", "provider", e.driver.ID(), "error", err)
	}
}

// Shutdown stops the health check loop and shuts down every driver.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.RLock()
	entries := make([]*providerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		if err := e.driver.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
