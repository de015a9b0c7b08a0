// Package router implements the Task Router: candidate filtering, composite
// scoring, and ordered fallback execution across the models the Provider
// Registry currently advertises.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/modelgate/internal/costgate"
	"github.com/example/modelgate/internal/registry"
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

// referenceCost is the currency-unit denominator for the scoring formula's
// cost component, per spec.md §4.2.
const referenceCost = 1.00

// defaultEstimatedTokens is used for the per-candidate cost estimate when a
// caller's Constraints does not supply one.
const defaultEstimatedTokens = 1000

// Constraints narrows the candidate set a Route call considers, mirroring
// the specification's route(task, priority, constraints) parameter.
type Constraints struct {
	PreferredProviders   []types.ProviderID
	ExcludedProviders    []types.ProviderID
	MinContextTokens     int
	RequireStreaming     bool
	RequireFunctions     bool
	RequireVision        bool
	MaxCostPer1K         float64
	EstimatedTokens      int
	AllowUserSuppliedKey bool
}

func (c Constraints) excludes(id types.ProviderID) bool {
	for _, x := range c.ExcludedProviders {
		if x == id {
			return true
		}
	}
	return false
}

func (c Constraints) estimatedTokens() int {
	if c.EstimatedTokens > 0 {
		return c.EstimatedTokens
	}
	return defaultEstimatedTokens
}

// CandidateModel is one surviving, scored candidate, in the order the
// Router would attempt it.
type CandidateModel struct {
	Model         provider.ModelDescriptor
	Score         float64
	EstimatedCost float64
}

// intrinsicPriority maps a ModelDescriptor's PriorityScore onto the 0-10
// scale spec.md's critical/high gates assume. PriorityScore itself is
// authored on a roughly 0.6-1.3 scale across the vendor drivers (a relative
// weight, not an absolute 0-10 rating), so the Router rescales it by a
// factor of 10 purely for the threshold comparisons in score() — the
// catalog value itself is never mutated.
func intrinsicPriority(m provider.ModelDescriptor) float64 {
	return m.PriorityScore * 10
}

// Router selects and walks an ordered candidate list per request, per
// spec.md §4.2's filtering/scoring rules and §4.2's fallback execution
// rule. It is the generalized counterpart of
// internal/resilience.FallbackGroup's sequential try-next shape: unlike
// that generic helper, each attempt here must also update the shared
// ledger and a per-model load-balancing counter, and operates over a
// dynamically scored candidate list rather than a fixed, named fallback
// chain, so the sequence is walked directly rather than built atop
// FallbackGroup itself.
type Router struct {
	reg  *registry.Registry
	gate *costgate.Gate

	mu          sync.Mutex
	loadBalance map[string]int64
	insertOrder map[string]int
	nextOrder   int
}

// New constructs a Router over reg's catalog, consulting gate for tier cost
// ceilings during candidate filtering.
func New(reg *registry.Registry, gate *costgate.Gate) *Router {
	return &Router{
		reg:         reg,
		gate:        gate,
		loadBalance: make(map[string]int64),
		insertOrder: make(map[string]int),
	}
}

// orderOf returns modelID's stable insertion index, assigning the next
// index the first time modelID is seen. This backs the final tie-break:
// models the Router has scored before keep a consistent relative order
// across calls even when every other tie-break is exactly even.
func (r *Router) orderOf(modelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.insertOrder[modelID]; ok {
		return idx
	}
	idx := r.nextOrder
	r.insertOrder[modelID] = idx
	r.nextOrder++
	return idx
}

func (r *Router) loadCount(modelID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadBalance[modelID]
}

func (r *Router) incrementLoad(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadBalance[modelID]++
}

// Route returns task's surviving candidate models for priority and
// constraints, best first, per spec.md §4.2's five-stage filter and
// composite scoring formula.
func (r *Router) Route(task types.TaskKind, priority types.Priority, tier types.UserTier, constraints Constraints) ([]CandidateModel, error) {
	pool := r.reg.ModelsForTask(task) // stages 1 and 2: task support + availability/health

	preferred := make(map[types.ProviderID]bool, len(constraints.PreferredProviders))
	for _, p := range constraints.PreferredProviders {
		preferred[p] = true
	}

	candidates := make([]CandidateModel, 0, len(pool))
	estTokens := constraints.estimatedTokens()

	for _, m := range pool {
		// Stage 3: exclusion set.
		if constraints.excludes(m.ProviderID) {
			continue
		}
		if len(preferred) > 0 && !preferred[m.ProviderID] {
			continue
		}
		// Stage 4: numeric constraints.
		if constraints.MinContextTokens > 0 && m.MaxContextTokens < constraints.MinContextTokens {
			continue
		}
		if constraints.MaxCostPer1K > 0 && m.HigherUnitCost() > constraints.MaxCostPer1K {
			continue
		}
		if constraints.RequireStreaming && !m.Streaming {
			continue
		}
		if constraints.RequireFunctions && !m.Functions {
			continue
		}
		if constraints.RequireVision && !m.Vision {
			continue
		}
		// Stage 5: tier cost-ceiling access.
		if !costgate.CheckTierAccess(tier, m) {
			continue
		}

		estimatedCost := costgate.EstimateCost(estTokens, m)
		score := r.score(m, priority, estimatedCost)
		candidates = append(candidates, CandidateModel{Model: m, Score: score, EstimatedCost: estimatedCost})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("router: no candidate models for task %s", task)
	}

	r.sortCandidates(candidates, task, len(constraints.PreferredProviders) == 0)
	return candidates, nil
}

// score computes the [0, 100] composite score for m under priority, using
// the ledger's running statistics and the candidate's estimated cost, per
// spec.md §4.2.
func (r *Router) score(m provider.ModelDescriptor, priority types.Priority, estimatedCost float64) float64 {
	snap := r.reg.Ledger().Snapshot(m.ID)

	reliability := 40 * snap.Reliability()

	latencyComponent := 30 * max0(1-snap.AvgResponseTimeMS/10_000)

	costFraction := max0(1 - estimatedCost/referenceCost)
	costComponent := 30 * costFraction

	composite := reliability + latencyComponent + costComponent

	switch priority {
	case types.PriorityHigh:
		if snap.AvgResponseTimeMS > 0 && snap.AvgResponseTimeMS < 2_000 {
			composite += 10
		}
	case types.PriorityLow:
		// Score the cost component at half weight, then add the halved
		// amount back on top of the already-included full component,
		// which nets to favoring cheap models by an extra half-weight
		// share of the cost score.
		composite += costComponent / 2
	}

	if snap.ErrorRate > 0.1 {
		composite *= 1 - snap.ErrorRate
	}
	if snap.AvgResponseTimeMS > 0 {
		// Degrade the composite by up to 20%, scaling smoothly from 0 at
		// snap.AvgResponseTimeMS == 0 up to the full 20% once the average
		// reaches or exceeds the 10s reference latency already used for
		// the latency component above.
		degradation := min1(snap.AvgResponseTimeMS/10_000) * 0.20
		composite *= 1 - degradation
	}

	priorityScore := intrinsicPriority(m)
	switch priority {
	case types.PriorityCritical:
		if priorityScore < 9.0 {
			composite *= 0.7
		}
	case types.PriorityHigh:
		if priorityScore < 8.0 {
			composite *= 0.8
		}
	}

	return composite
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// preferenceRank returns id's position in task's default fallback order
// (lower is more preferred), or len(order) when id doesn't appear in it at
// all — so an unlisted provider sorts behind every listed one without
// needing a sentinel value.
func preferenceRank(task types.TaskKind, id types.ProviderID) int {
	order := task.FallbackOrder()
	for i, p := range order {
		if p == id {
			return i
		}
	}
	return len(order)
}

// sortCandidates orders candidates best-first: composite score descending,
// then the tie-breaks from spec.md §4.2 in descending precedence —
// intrinsic priority score; task's default provider preference order
// (§4.2's per-task fallback table), applied only when the caller named no
// explicit preferred providers of its own; load-balancing counter (fewer
// recent calls wins); and finally stable insertion order.
func (r *Router) sortCandidates(candidates []CandidateModel, task types.TaskKind, useTaskPreference bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		pa, pb := intrinsicPriority(a.Model), intrinsicPriority(b.Model)
		if pa != pb {
			return pa > pb
		}
		if useTaskPreference {
			ra, rb := preferenceRank(task, a.Model.ProviderID), preferenceRank(task, b.Model.ProviderID)
			if ra != rb {
				return ra < rb
			}
		}
		la, lb := r.loadCount(a.Model.ID), r.loadCount(b.Model.ID)
		if la != lb {
			return la < lb
		}
		return r.orderOf(a.Model.ID) < r.orderOf(b.Model.ID)
	})
}

// ProcessFunc invokes a candidate model and returns its response. Execute
// calls this once per candidate, in order, via the registry.
type ProcessFunc func(ctx context.Context, modelID string, req provider.ProcessRequest) (*provider.ProviderResponse, error)

// Execute walks candidates in order, invoking process for each until one
// succeeds, per spec.md §4.2's fallback execution rule: record start time,
// invoke, update the ledger and load-balancing counter on the outcome, and
// either return the first success or, once every candidate has failed,
// return a composite failure carrying the last error.
func (r *Router) Execute(ctx context.Context, candidates []CandidateModel, req provider.ProcessRequest, process ProcessFunc) (*provider.ProviderResponse, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("router: Execute called with no candidates")
	}

	var lastErr error
	for _, c := range candidates {
		start := time.Now()
		resp, err := process(ctx, c.Model.ID, req)
		r.incrementLoad(c.Model.ID)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		_ = time.Since(start) // latency already recorded by the registry's own Process call
	}
	return nil, fmt.Errorf("router: all %d candidates failed, last error: %w", len(candidates), lastErr)
}

// ProviderDistribution summarizes one provider's share of the load-balancing
// counters Execute has accumulated across every model it owns.
type ProviderDistribution struct {
	Requests   int64
	Percentage float64
}

// Stats reports cumulative routing statistics: total requests attempted
// across every model, and the per-provider share of that total. Percentage
// is 0 for every provider when no requests have been attempted yet.
func (r *Router) Stats() (totalRequests int64, byProvider map[types.ProviderID]ProviderDistribution) {
	r.mu.Lock()
	counts := make(map[string]int64, len(r.loadBalance))
	for modelID, n := range r.loadBalance {
		counts[modelID] = n
	}
	r.mu.Unlock()

	perProvider := make(map[types.ProviderID]int64)
	for modelID, n := range counts {
		totalRequests += n
		if m, ok := r.reg.ModelDescriptor(modelID); ok {
			perProvider[m.ProviderID] += n
		}
	}

	byProvider = make(map[types.ProviderID]ProviderDistribution, len(perProvider))
	for id, n := range perProvider {
		pct := 0.0
		if totalRequests > 0 {
			pct = float64(n) / float64(totalRequests) * 100
		}
		byProvider[id] = ProviderDistribution{Requests: n, Percentage: pct}
	}
	return totalRequests, byProvider
}

// TaskCapabilities aggregates what the currently registered catalog can do
// for task, across every model that advertises support for it. Available is
// false when no such model exists, in which case the remaining fields are
// zero values.
type TaskCapabilities struct {
	Available          bool
	ModelCount         int
	Providers          []types.ProviderID
	SupportsVision     bool
	SupportsFunctions  bool
	SupportsStreaming  bool
	MaxContextTokens   int
	MinCostPer1KPrompt float64
	BestModelID        string
}

// TaskCapabilities reports the registry's aggregate capability surface for
// task: which providers can serve it, whether any surviving model supports
// vision/functions/streaming, the largest context window on offer, the
// cheapest per-1k-prompt-token rate, and the ID of the model with the
// highest catalog PriorityScore (unfiltered by tier or cost; among equal
// scores the one ModelsForTask happens to return first).
func (r *Router) TaskCapabilities(task types.TaskKind) TaskCapabilities {
	models := r.reg.ModelsForTask(task)
	if len(models) == 0 {
		return TaskCapabilities{}
	}

	seen := make(map[types.ProviderID]bool)
	var providers []types.ProviderID
	minCost := -1.0
	caps := TaskCapabilities{Available: true, ModelCount: len(models), BestModelID: models[0].ID}
	bestScore := models[0].PriorityScore

	for _, m := range models {
		if m.PriorityScore > bestScore {
			bestScore = m.PriorityScore
			caps.BestModelID = m.ID
		}
		if !seen[m.ProviderID] {
			seen[m.ProviderID] = true
			providers = append(providers, m.ProviderID)
		}
		caps.SupportsVision = caps.SupportsVision || m.Vision
		caps.SupportsFunctions = caps.SupportsFunctions || m.Functions
		caps.SupportsStreaming = caps.SupportsStreaming || m.Streaming
		if m.MaxContextTokens > caps.MaxContextTokens {
			caps.MaxContextTokens = m.MaxContextTokens
		}
		if minCost < 0 || m.CostPer1KPrompt < minCost {
			minCost = m.CostPer1KPrompt
		}
	}

	caps.Providers = providers
	caps.MinCostPer1KPrompt = minCost
	return caps
}
