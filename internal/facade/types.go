package facade

import (
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

// ProcessRequest is the canonical inbound request to the gateway's single
// public entry point, per spec.md §6.
type ProcessRequest struct {
	Task            types.TaskKind
	Content         string
	Messages        []types.Message
	PinnedProvider  types.ProviderID
	PinnedModel     string
	Params          provider.GenerationParams
	SessionID       string
	TemplateID      string
	Priority        types.Priority
	UserID          string
	UserTier        types.UserTier
	UserSuppliedKey string
	SkipCache       bool
	Metadata        map[string]any
}

// ProcessResponse is the canonical outbound response, per spec.md §6.
type ProcessResponse struct {
	RequestID             string
	Task                  types.TaskKind
	ProviderID            types.ProviderID
	ModelID               string
	Content               string
	TotalTokens           int
	ProcessingTimeSeconds float64
	Cached                bool
	SessionID             string
	Metadata              map[string]any
}

// MediaRequest is processMedia's input: raw bytes plus MIME type and an
// optional prompt, routed to vision-capable models only (spec.md §6).
type MediaRequest struct {
	ProcessRequest
	MediaBytes []byte
	MediaMIME  string
}

// ModelPair names one (provider, model) candidate for processWithModels.
type ModelPair struct {
	ProviderID types.ProviderID
	ModelID    string
}

// ModelsRequest is processWithModels' input: a fixed list of pairs to call
// in parallel, per spec.md §4.5's diagnostic/experimentation operation.
type ModelsRequest struct {
	ProcessRequest
	Pairs []ModelPair
	// FirstSuccessOnly, when true, raises a composite error if every pair
	// fails; when false (the default "compare results" mode used by
	// spec.md §8 scenario 5), all per-pair outcomes are returned and no
	// branch failure aborts the call.
	FirstSuccessOnly bool
}

// ModelResult is one pair's outcome from processWithModels.
type ModelResult struct {
	Pair     ModelPair
	Response *ProcessResponse
	Err      error
}

// PerformanceMetrics is one model's ledger snapshot, as returned by
// getPerformanceMetrics (spec.md §6).
type PerformanceMetrics struct {
	ModelID            string
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	AvgResponseTimeMS  float64
	ErrorRate          float64
}
