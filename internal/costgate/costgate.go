// Package costgate implements the Cost & Security Gate: pre-flight cost and
// token estimation, per-tier spending limits, the emergency circuit
// breaker, and user-supplied credential validation.
package costgate

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

// TierLimits is the default spending-limit bundle for one UserTier, per
// spec.md §4.3's tier table. All cost values are in currency units.
type TierLimits struct {
	DailyCostCap     float64
	DailyRequestCap  int
	DailyTokenCap    int
	HourlyCostCap    float64
	HourlyRequestCap int
	PerRequestCostCap  float64
	PerRequestTokenCap int
}

// defaultTierLimits is the literal tier table from the specification.
var defaultTierLimits = map[types.UserTier]TierLimits{
	types.TierFree:     {DailyCostCap: 1.00, DailyRequestCap: 50, DailyTokenCap: 10_000, HourlyCostCap: 0.25, HourlyRequestCap: 15, PerRequestCostCap: 0.10, PerRequestTokenCap: 2_000},
	types.TierLilbean:  {DailyCostCap: 5.00, DailyRequestCap: 200, DailyTokenCap: 50_000, HourlyCostCap: 1.00, HourlyRequestCap: 50, PerRequestCostCap: 0.50, PerRequestTokenCap: 4_000},
	types.TierClawback: {DailyCostCap: 25.00, DailyRequestCap: 1_000, DailyTokenCap: 250_000, HourlyCostCap: 5.00, HourlyRequestCap: 200, PerRequestCostCap: 2.00, PerRequestTokenCap: 8_000},
	types.TierBigchonk: {DailyCostCap: 100.00, DailyRequestCap: 5_000, DailyTokenCap: 1_000_000, HourlyCostCap: 20.00, HourlyRequestCap: 500, PerRequestCostCap: 10.00, PerRequestTokenCap: 16_000},
	types.TierMeowtrix: {DailyCostCap: 500.00, DailyRequestCap: 25_000, DailyTokenCap: 5_000_000, HourlyCostCap: 100.00, HourlyRequestCap: 2_000, PerRequestCostCap: 50.00, PerRequestTokenCap: 32_000},
}

// CostCeiling returns the tier's model-access cost ceiling: the maximum
// per-1k-token unit cost a model may carry for this tier to route to it.
// The values are a fixed per-tier table (0.001/1k for free up to 1.0/1k
// for meowtrix), not derived from the tier's spending caps.
func CostCeiling(tier types.UserTier) float64 {
	switch tier {
	case types.TierFree:
		return 0.001
	case types.TierLilbean:
		return 0.01
	case types.TierClawback:
		return 0.05
	case types.TierBigchonk:
		return 0.25
	default:
		return 1.0
	}
}

// userKeyFormat enforces the printable, URL-safe, length ≥ 20 check on a
// caller-supplied provider credential.
var userKeyFormat = regexp.MustCompile(`^[A-Za-z0-9_.~-]{20,}$`)

// ValidUserKeyFormat reports whether key passes the format check required
// before a user-supplied credential can be accepted.
func ValidUserKeyFormat(key string) bool {
	return userKeyFormat.MatchString(key)
}

// Decision is the Gate's pre-flight verdict.
type Decision struct {
	Admitted      bool
	EstimatedCost float64
	Reason        string
}

// windowCounters tracks the running spend for one time window, reset
// idempotently by comparing the stored window start to the current one.
type windowCounters struct {
	cost      float64
	requests  int
	tokens    int
	windowStart time.Time
}

// userState is the per-caller SpendingLimitState: independent hourly and
// daily windows, guarded by their own mutex so one user's state never
// blocks another's.
type userState struct {
	mu     sync.Mutex
	hourly windowCounters
	daily  windowCounters
}

// Gate is the Cost & Security Gate.
type Gate struct {
	emergencyCostCeiling          float64
	emergencyHourlyRequestCeiling int

	mu    sync.Mutex
	users map[string]*userState

	// breaker is the emergency global hourly-volume gate: a token bucket
	// that refills at emergencyHourlyRequestCeiling tokens per hour, so a
	// burst of admissions cannot outrun the ceiling the way a
	// window-counter comparison checked only at commit time could.
	breaker *rate.Limiter

	persister Persister
}

// Option configures a Gate.
type Option func(*Gate)

// WithEmergencyCostCeiling overrides the flat per-request cost ceiling
// (default 50.00) enforced regardless of tier.
func WithEmergencyCostCeiling(v float64) Option {
	return func(g *Gate) {
		if v > 0 {
			g.emergencyCostCeiling = v
		}
	}
}

// WithEmergencyHourlyRequestCeiling overrides the global hourly request
// volume ceiling (default 10000).
func WithEmergencyHourlyRequestCeiling(v int) Option {
	return func(g *Gate) {
		if v > 0 {
			g.emergencyHourlyRequestCeiling = v
		}
	}
}

// WithPersister attaches a persistence hook, consulted best-effort by
// Commit. Omit to run fully in memory.
func WithPersister(p Persister) Option {
	return func(g *Gate) { g.persister = p }
}

// New constructs a Gate.
func New(opts ...Option) *Gate {
	g := &Gate{
		emergencyCostCeiling:          50.00,
		emergencyHourlyRequestCeiling: 10_000,
		users:                         make(map[string]*userState),
		persister:                     noopPersister{},
	}
	for _, o := range opts {
		o(g)
	}
	g.breaker = newHourlyLimiter(g.emergencyHourlyRequestCeiling)
	return g
}

// newHourlyLimiter builds a token bucket that admits ceiling requests per
// hour, with a burst equal to the full hourly ceiling so a quiet hour's
// unused budget does not roll over and double the next hour's effective
// ceiling.
func newHourlyLimiter(ceiling int) *rate.Limiter {
	perSecond := float64(ceiling) / time.Hour.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), ceiling)
}

func (g *Gate) stateFor(userID string) *userState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.users[userID]
	if !ok {
		s = &userState{}
		g.users[userID] = s
	}
	return s
}

// EstimateCost computes the pre-flight cost estimate per spec.md §4.3 step
// 1: 70% of estimatedTokens are assumed prompt tokens, 30% completion.
func EstimateCost(estimatedTokens int, model provider.ModelDescriptor) float64 {
	promptTokens := float64(estimatedTokens) * 0.7
	completionTokens := float64(estimatedTokens) * 0.3
	return (promptTokens/1000)*model.CostPer1KPrompt + (completionTokens/1000)*model.CostPer1KCompletion
}

// Check runs the Gate's six-step pre-flight sequence for userID at tier,
// against model, requesting estimatedTokens. It does not mutate any
// per-user counter — callers that proceed past an Admitted decision must
// call Commit to record the actual spend. The global emergency breaker
// (step 6) is the exception: a request that passes every earlier check and
// the emergency cost ceiling takes one token from the breaker's hourly
// budget whenever a token is available; a request refused earlier,
// including at the cost ceiling, takes none. The breaker bounds total
// inbound volume, not any one user's spend.
func (g *Gate) Check(userID string, tier types.UserTier, model provider.ModelDescriptor, estimatedTokens int) Decision {
	now := time.Now()
	limits := defaultTierLimits[tier]
	estimatedCost := EstimateCost(estimatedTokens, model)

	// Step 2: per-request cost cap.
	if estimatedCost > limits.PerRequestCostCap {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "per_request_cost_cap_exceeded"}
	}
	// Step 3: per-request token cap.
	if estimatedTokens > limits.PerRequestTokenCap {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "per_request_token_cap_exceeded"}
	}

	s := g.stateFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	resetIfStale(&s.hourly, now, time.Hour)
	resetIfStale(&s.daily, now, 24*time.Hour)

	// Step 4: hourly caps.
	if s.hourly.cost+estimatedCost > limits.HourlyCostCap {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "hourly_cost_cap_exceeded"}
	}
	if s.hourly.requests+1 > limits.HourlyRequestCap {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "hourly_request_cap_exceeded"}
	}

	// Step 5: daily caps.
	if s.daily.cost+estimatedCost > limits.DailyCostCap {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "daily_cost_cap_exceeded"}
	}
	if s.daily.requests+1 > limits.DailyRequestCap {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "daily_request_cap_exceeded"}
	}
	if s.daily.tokens+estimatedTokens > limits.DailyTokenCap {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "daily_token_cap_exceeded"}
	}

	// Step 6: emergency circuit breaker. Evaluated last, since it is a
	// global trip independent of any one user's standing.
	if estimatedCost > g.emergencyCostCeiling {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "emergency_cost_ceiling_exceeded"}
	}
	if !g.breaker.Allow() {
		return Decision{Admitted: false, EstimatedCost: estimatedCost, Reason: "emergency_hourly_volume_exceeded"}
	}

	return Decision{Admitted: true, EstimatedCost: estimatedCost}
}

// Commit records an admitted request's actual cost and token usage against
// userID's running counters. Call only after a successful (or attempted)
// driver invocation that followed an Admitted Check.
func (g *Gate) Commit(userID string, actualCost float64, actualTokens int) {
	now := time.Now()
	s := g.stateFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	resetIfStale(&s.hourly, now, time.Hour)
	resetIfStale(&s.daily, now, 24*time.Hour)

	s.hourly.cost += actualCost
	s.hourly.requests++
	s.daily.cost += actualCost
	s.daily.requests++
	s.daily.tokens += actualTokens
	s.mu.Unlock()

	_ = g.persister.PersistSpend(userID, actualCost, actualTokens)
	s.mu.Lock()
}

// resetIfStale zeros c if now falls in a different window than the one
// c.windowStart recorded, per the idempotent reset rule in spec.md §4.3:
// the Gate compares the stored window start to the current window and
// zeros the counter on mismatch rather than using a ticker.
func resetIfStale(c *windowCounters, now time.Time, window time.Duration) {
	currentWindow := now.Truncate(window)
	if c.windowStart.Equal(currentWindow) {
		return
	}
	c.windowStart = currentWindow
	c.cost = 0
	c.requests = 0
	c.tokens = 0
}

// CheckTierAccess reports whether tier grants access to model, per spec.md
// §4.2 candidate-filtering step 5: the model's higher unit cost must not
// exceed the tier's cost ceiling.
func CheckTierAccess(tier types.UserTier, model provider.ModelDescriptor) bool {
	return model.HigherUnitCost() <= CostCeiling(tier)
}

// ValidateUserCredential checks whether tier may supply its own provider
// credentials, and that key passes the required format check.
func ValidateUserCredential(tier types.UserTier, key string) error {
	if !tier.AllowsUserKeys() {
		return fmt.Errorf("costgate: tier %s may not supply user credentials", tier)
	}
	if !ValidUserKeyFormat(key) {
		return fmt.Errorf("costgate: user credential fails format check (printable URL-safe, length >= 20)")
	}
	return nil
}
