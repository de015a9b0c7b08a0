// Package facade implements the Gateway Facade: the single entry point
// spec.md §6 describes, composing the Registry, Router, Cache, Cost Gate,
// and Session Store into the request lifecycle of §4.5/§7/§9 — cache
// lookup, route, pre-flight cost check, fallback execution, ledger update,
// and cache write.
package facade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/modelgate/internal/cache"
	"github.com/example/modelgate/internal/costgate"
	"github.com/example/modelgate/internal/registry"
	"github.com/example/modelgate/internal/router"
	"github.com/example/modelgate/internal/session"
	"github.com/example/modelgate/internal/tokencount"
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

// Facade is the gateway's single public entry point. It holds non-owning
// references to each collaborator — callers are responsible for
// constructing and shutting them down (cmd/modelgate's buildGateway builds
// the Ledger, Registry, Cache, Cost Gate, Router and Session Store, in that
// order, before the Facade).
type Facade struct {
	reg      *registry.Registry
	router   *router.Router
	cache    *cache.Cache
	gate     *costgate.Gate
	sessions *session.Store
}

// New assembles a Facade over its already-constructed collaborators.
func New(reg *registry.Registry, rt *router.Router, c *cache.Cache, gate *costgate.Gate, sessions *session.Store) *Facade {
	return &Facade{reg: reg, router: rt, cache: c, gate: gate, sessions: sessions}
}

// Process is the gateway's primary operation (spec.md §4.5/§6): resolve the
// caller's session and cache state, route and admit the request, execute it
// with fallback, and record the outcome.
func (f *Facade) Process(ctx context.Context, req ProcessRequest) (*ProcessResponse, error) {
	requestID := uuid.New().String()

	if !req.Task.IsValid() {
		return nil, newGatewayError(KindValidation, requestID, fmt.Sprintf("unrecognized task %q", req.Task), nil)
	}
	if req.UserSuppliedKey != "" {
		if err := costgate.ValidateUserCredential(req.UserTier, req.UserSuppliedKey); err != nil {
			return nil, newGatewayError(KindValidation, requestID, err.Error(), err)
		}
	}

	unlock := f.sessions.Lock(req.SessionID)
	defer unlock()

	sessCtx := f.sessions.Context(req.SessionID)
	messages := mergeHistory(sessCtx, req)

	pinnedModel := req.PinnedModel
	if pinnedModel == "" {
		if pref, ok := sessCtx.Preference(req.Task); ok {
			pinnedModel = pref
		}
	}

	if !req.SkipCache {
		fp := cache.Fingerprint(cache.FingerprintInput{
			Task:           req.Task,
			Content:        req.Content,
			Messages:       messages,
			PinnedProvider: req.PinnedProvider,
			PinnedModel:    pinnedModel,
			MaxTokens:      req.Params.MaxTokens,
			Temperature:    req.Params.Temperature,
			TemplateID:     req.TemplateID,
		})
		if entry, ok := f.cache.Get(ctx, fp); ok {
			return &ProcessResponse{
				RequestID:  requestID,
				Task:       req.Task,
				ProviderID: entry.ProviderID,
				ModelID:    entry.ModelID,
				Content:    entry.Content,
				TotalTokens: entry.TotalTokens,
				Cached:     true,
				SessionID:  req.SessionID,
				Metadata:   entry.Metadata,
			}, nil
		}
		return f.processAndCache(ctx, requestID, req, messages, pinnedModel, sessCtx, fp)
	}

	return f.processWithFallback(ctx, requestID, req, messages, pinnedModel, sessCtx, false)
}

func (f *Facade) processAndCache(ctx context.Context, requestID string, req ProcessRequest, messages []types.Message, pinnedModel string, sessCtx *session.Context, fp string) (*ProcessResponse, error) {
	resp, err := f.processWithFallback(ctx, requestID, req, messages, pinnedModel, sessCtx, false)
	if err != nil {
		return nil, err
	}
	f.cache.Set(ctx, fp, cache.Entry{
		Content:     resp.Content,
		ModelID:     resp.ModelID,
		ProviderID:  resp.ProviderID,
		TotalTokens: resp.TotalTokens,
		StoredAt:    time.Now(),
		Metadata:    resp.Metadata,
	}, 0)
	return resp, nil
}

// mergeHistory builds the message sequence sent to the model: the
// session's retained history (already summarized as needed) followed by
// the caller's new turn. A caller with no session id simply gets its own
// messages back, per spec.md §5's stateless path.
func mergeHistory(sessCtx *session.Context, req ProcessRequest) []types.Message {
	history := sessCtx.Messages()
	if len(req.Messages) == 0 && req.Content == "" {
		return history
	}
	turn := req.Messages
	if len(turn) == 0 {
		turn = []types.Message{{Role: "user", Content: req.Content}}
	}
	if len(history) == 0 {
		return turn
	}
	merged := make([]types.Message, 0, len(history)+len(turn))
	merged = append(merged, history...)
	merged = append(merged, turn...)
	return merged
}

// processWithFallback resolves candidates, checks the cost gate, and
// executes with fallback. When the caller pinned a provider or model and
// every candidate fails with a fallback-eligible error, it recurses exactly
// once with the pin removed, guarded by pinningRemoved against a second
// pass — the "duplicated process-with-fallback" shape spec.md §9 calls for.
func (f *Facade) processWithFallback(ctx context.Context, requestID string, req ProcessRequest, messages []types.Message, pinnedModel string, sessCtx *session.Context, pinningRemoved bool) (*ProcessResponse, error) {
	candidates, err := f.resolveCandidates(req, pinnedModel, pinningRemoved)
	if err != nil {
		kind := KindModelNotFound
		var cre *candidateResolutionError
		if errors.As(err, &cre) {
			kind = cre.kind
		}
		return nil, newGatewayError(kind, requestID, err.Error(), err)
	}

	top := candidates[0].Model
	estimatedTokens := tokencount.EstimateRequestTokens(top.ProviderID, req.Content, messages)
	decision := f.gate.Check(req.UserID, req.UserTier, top, estimatedTokens)
	if !decision.Admitted {
		return nil, newGatewayError(classifyDecisionReason(decision.Reason), requestID, decision.Reason, nil)
	}

	preq := provider.ProcessRequest{
		Task:     req.Task,
		Content:  req.Content,
		Messages: messages,
		Params:   req.Params,
		SessionID: req.SessionID,
	}

	resp, execErr := f.router.Execute(ctx, candidates, preq, f.reg.Process)
	if execErr != nil {
		pinned := pinnedModel != "" || req.PinnedProvider != ""
		if pinned && !pinningRemoved && fallbackEligible(execErr) {
			return f.processWithFallback(ctx, requestID, req, messages, "", sessCtx, true)
		}
		return nil, classifyExecError(requestID, execErr)
	}

	model, _ := f.reg.ModelDescriptor(resp.ModelID)
	actualCost := costEstimateFromResponse(model, resp)
	f.gate.Commit(req.UserID, actualCost, resp.TotalTokens)

	turn := req.Messages
	if len(turn) == 0 && req.Content != "" {
		turn = []types.Message{{Role: "user", Content: req.Content}}
	}
	if len(turn) > 0 {
		_ = sessCtx.AddMessages(ctx, turn...)
	}
	_ = sessCtx.AddMessages(ctx, types.Message{Role: "assistant", Content: resp.Content})

	return &ProcessResponse{
		RequestID:             requestID,
		Task:                  req.Task,
		ProviderID:            model.ProviderID,
		ModelID:               resp.ModelID,
		Content:                resp.Content,
		TotalTokens:            resp.TotalTokens,
		ProcessingTimeSeconds: 0,
		Cached:                false,
		SessionID:              req.SessionID,
		Metadata:               resp.Metadata,
	}, nil
}

// resolveCandidates returns the ordered candidate list for req: a single
// pinned candidate when the caller named one (and the pin has not already
// been removed by a fallback pass), otherwise the Router's scored pool.
//
// Pinning bypasses the Router's preference defaults and scoring, but never
// the tier/cost gates: a pinned model still must clear costgate.CheckTierAccess
// and SupportsTask, the same gates router.Route's stage-5 filter applies to
// its own candidate pool, so a free-tier caller can't bypass its cost
// ceiling simply by naming a model directly.
//
// When the Router finds no candidate and every model serving the task is
// above the caller's tier cost ceiling, the failure is reported as
// KindCostLimitExceeded.
func (f *Facade) resolveCandidates(req ProcessRequest, pinnedModel string, pinningRemoved bool) ([]router.CandidateModel, error) {
	if pinnedModel != "" && !pinningRemoved {
		desc, ok := f.reg.ModelDescriptor(pinnedModel)
		if !ok {
			return nil, &candidateResolutionError{kind: KindModelNotFound, message: fmt.Sprintf("pinned model %q not found", pinnedModel)}
		}
		if !desc.SupportsTask(req.Task) {
			return nil, &candidateResolutionError{kind: KindTaskNotSupported, message: fmt.Sprintf("pinned model %q does not support task %q", pinnedModel, req.Task)}
		}
		if !costgate.CheckTierAccess(req.UserTier, desc) {
			return nil, &candidateResolutionError{kind: KindTierForbidden, message: fmt.Sprintf("pinned model %q exceeds tier %q cost ceiling", pinnedModel, req.UserTier)}
		}
		cost := costgate.EstimateCost(defaultEstimatedTokensForPin, desc)
		return []router.CandidateModel{{Model: desc, EstimatedCost: cost}}, nil
	}

	constraints := router.Constraints{
		ExcludedProviders:    nil,
		AllowUserSuppliedKey: req.UserSuppliedKey != "",
	}
	if req.PinnedProvider != "" && !pinningRemoved {
		constraints.PreferredProviders = []types.ProviderID{req.PinnedProvider}
	}
	candidates, err := f.router.Route(req.Task, req.Priority, req.UserTier, constraints)
	if err != nil {
		models := f.reg.ModelsForTask(req.Task)
		aboveCeiling := len(models) > 0
		for _, m := range models {
			if costgate.CheckTierAccess(req.UserTier, m) {
				aboveCeiling = false
				break
			}
		}
		if aboveCeiling {
			return nil, &candidateResolutionError{kind: KindCostLimitExceeded, message: fmt.Sprintf("no model for task %q fits tier %q cost ceiling", req.Task, req.UserTier)}
		}
	}
	return candidates, err
}

const defaultEstimatedTokensForPin = 1000

// candidateResolutionError carries the specific ErrorKind a pinned-model
// rejection or a tier-ceiling refusal must surface as, rather than the generic KindModelNotFound
// processWithFallback otherwise assumes for any resolveCandidates failure.
type candidateResolutionError struct {
	kind    ErrorKind
	message string
}

func (e *candidateResolutionError) Error() string { return e.message }

// fallbackEligible reports whether execErr's underlying classification
// permits a second attempt with the caller's pin removed, per spec.md §7:
// only retryable provider error kinds qualify, never a validation failure.
func fallbackEligible(err error) bool {
	pe, ok := provider.AsProviderError(err)
	if !ok {
		return true
	}
	return pe.Kind.Retryable()
}

// classifyDecisionReason maps a costgate.Decision's reason string onto the
// facade's ErrorKind taxonomy: the hourly/daily request-count caps and the
// global volume breaker map to KindRateLimited, every cost or token refusal
// (including the per-request caps) to KindCostLimitExceeded.
func classifyDecisionReason(reason string) ErrorKind {
	if strings.Contains(reason, "request_cap") || strings.Contains(reason, "volume") {
		return KindRateLimited
	}
	return KindCostLimitExceeded
}

func costEstimateFromResponse(model provider.ModelDescriptor, resp *provider.ProviderResponse) float64 {
	promptCost := (float64(resp.PromptTokens) / 1000) * model.CostPer1KPrompt
	completionCost := (float64(resp.CompletionTokens) / 1000) * model.CostPer1KCompletion
	return promptCost + completionCost
}

// ProcessMedia routes a vision request, requiring candidates that support
// media analysis (spec.md §6).
func (f *Facade) ProcessMedia(ctx context.Context, req MediaRequest) (*ProcessResponse, error) {
	requestID := uuid.New().String()
	if req.Task == "" {
		req.Task = types.TaskMediaAnalysis
	}

	unlock := f.sessions.Lock(req.SessionID)
	defer unlock()
	sessCtx := f.sessions.Context(req.SessionID)
	messages := mergeHistory(sessCtx, req.ProcessRequest)

	candidates, err := f.router.Route(req.Task, req.Priority, req.UserTier, router.Constraints{RequireVision: true})
	if err != nil {
		return nil, newGatewayError(KindModelNotFound, requestID, err.Error(), err)
	}

	top := candidates[0].Model
	estimatedTokens := tokencount.EstimateRequestTokens(top.ProviderID, req.Content, messages)
	decision := f.gate.Check(req.UserID, req.UserTier, top, estimatedTokens)
	if !decision.Admitted {
		return nil, newGatewayError(classifyDecisionReason(decision.Reason), requestID, decision.Reason, nil)
	}

	preq := provider.ProcessRequest{
		Task:       req.Task,
		Content:    req.Content,
		Messages:   messages,
		Params:     req.Params,
		SessionID:  req.SessionID,
		MediaBytes: req.MediaBytes,
		MediaMIME:  req.MediaMIME,
	}
	resp, execErr := f.router.Execute(ctx, candidates, preq, f.reg.Process)
	if execErr != nil {
		return nil, classifyExecError(requestID, execErr)
	}

	model, _ := f.reg.ModelDescriptor(resp.ModelID)
	f.gate.Commit(req.UserID, costEstimateFromResponse(model, resp), resp.TotalTokens)
	_ = sessCtx.AddMessages(ctx, types.Message{Role: "assistant", Content: resp.Content})

	return &ProcessResponse{
		RequestID:  requestID,
		Task:       req.Task,
		ProviderID: model.ProviderID,
		ModelID:    resp.ModelID,
		Content:    resp.Content,
		TotalTokens: resp.TotalTokens,
		SessionID:  req.SessionID,
		Metadata:   resp.Metadata,
	}, nil
}

// ProcessWithModels calls each named (provider, model) pair in parallel and
// returns every outcome, for the diagnostic/experimentation path of
// spec.md §4.5. A fixed WaitGroup over the bounded Pairs list, not
// errgroup, matches the teacher's own fan-out idiom of collecting every
// result rather than aborting on the first error.
func (f *Facade) ProcessWithModels(ctx context.Context, req ModelsRequest) ([]ModelResult, error) {
	results := make([]ModelResult, len(req.Pairs))

	var wg sync.WaitGroup
	for i, pair := range req.Pairs {
		wg.Add(1)
		go func(i int, pair ModelPair) {
			defer wg.Done()
			results[i] = f.processOnePair(ctx, req.ProcessRequest, pair)
		}(i, pair)
	}
	wg.Wait()

	if req.FirstSuccessOnly {
		for _, r := range results {
			if r.Err == nil {
				return []ModelResult{r}, nil
			}
		}
		return results, fmt.Errorf("facade: all %d pairs failed", len(results))
	}
	return results, nil
}

func (f *Facade) processOnePair(ctx context.Context, req ProcessRequest, pair ModelPair) ModelResult {
	requestID := uuid.New().String()
	desc, ok := f.reg.ModelDescriptor(pair.ModelID)
	if !ok {
		return ModelResult{Pair: pair, Err: newGatewayError(KindModelNotFound, requestID, fmt.Sprintf("model %q not found", pair.ModelID), nil)}
	}

	messages := req.Messages
	if len(messages) == 0 && req.Content != "" {
		messages = []types.Message{{Role: "user", Content: req.Content}}
	}
	estimatedTokens := tokencount.EstimateRequestTokens(desc.ProviderID, req.Content, messages)
	decision := f.gate.Check(req.UserID, req.UserTier, desc, estimatedTokens)
	if !decision.Admitted {
		return ModelResult{Pair: pair, Err: newGatewayError(classifyDecisionReason(decision.Reason), requestID, decision.Reason, nil)}
	}

	preq := provider.ProcessRequest{Task: req.Task, Content: req.Content, Messages: messages, Params: req.Params}
	resp, err := f.reg.Process(ctx, pair.ModelID, preq)
	if err != nil {
		return ModelResult{Pair: pair, Err: classifyExecError(requestID, err)}
	}

	f.gate.Commit(req.UserID, costEstimateFromResponse(desc, resp), resp.TotalTokens)
	return ModelResult{Pair: pair, Response: &ProcessResponse{
		RequestID:  requestID,
		Task:       req.Task,
		ProviderID: pair.ProviderID,
		ModelID:    resp.ModelID,
		Content:    resp.Content,
		TotalTokens: resp.TotalTokens,
		SessionID:  req.SessionID,
		Metadata:   resp.Metadata,
	}}
}

// ListModels returns every model currently advertised by the registry.
func (f *Facade) ListModels() []provider.ModelDescriptor {
	return f.reg.Models()
}

// GetPerformanceMetrics returns modelID's running ledger snapshot.
func (f *Facade) GetPerformanceMetrics(modelID string) (PerformanceMetrics, error) {
	if _, ok := f.reg.ModelDescriptor(modelID); !ok {
		return PerformanceMetrics{}, fmt.Errorf("facade: model %q not found", modelID)
	}
	snap := f.reg.Ledger().Snapshot(modelID)
	return PerformanceMetrics{
		ModelID:            modelID,
		TotalRequests:      snap.TotalRequests,
		SuccessfulRequests: snap.SuccessfulRequests,
		FailedRequests:     snap.FailedRequests,
		AvgResponseTimeMS:  snap.AvgResponseTimeMS,
		ErrorRate:          snap.ErrorRate,
	}, nil
}

// CreateSession initializes empty state for sessionID.
func (f *Facade) CreateSession(sessionID string) { f.sessions.Create(sessionID) }

// DeleteSession discards sessionID's state synchronously.
func (f *Facade) DeleteSession(sessionID string) { f.sessions.Delete(sessionID) }

// SetTaskModelPreferences pins modelID as sessionID's preferred model for
// task, consulted by Process ahead of the Router whenever the caller
// supplies no explicit pin of its own.
func (f *Facade) SetTaskModelPreferences(sessionID string, task types.TaskKind, modelID string) error {
	if _, ok := f.reg.ModelDescriptor(modelID); !ok {
		return fmt.Errorf("facade: model %q not found", modelID)
	}
	f.sessions.Context(sessionID).SetPreference(task, modelID)
	return nil
}
