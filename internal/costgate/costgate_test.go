package costgate_test

import (
	"testing"

	"github.com/example/modelgate/internal/costgate"
	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

func cheapModel() provider.ModelDescriptor {
	return provider.ModelDescriptor{
		ID: "cheap-model", CostPer1KPrompt: 0.0001, CostPer1KCompletion: 0.0001,
	}
}

func expensiveModel() provider.ModelDescriptor {
	return provider.ModelDescriptor{
		ID: "expensive-model", CostPer1KPrompt: 10, CostPer1KCompletion: 10,
	}
}

func TestEstimateCost_SeventyThirtySplit(t *testing.T) {
	m := provider.ModelDescriptor{CostPer1KPrompt: 0.01, CostPer1KCompletion: 0.02}
	got := costgate.EstimateCost(1000, m)
	want := 0.7*0.01 + 0.3*0.02
	if got != want {
		t.Errorf("EstimateCost() = %v, want %v", got, want)
	}
}

func TestCheck_AdmitsWithinFreeTierLimits(t *testing.T) {
	g := costgate.New()
	d := g.Check("user-1", types.TierFree, cheapModel(), 400)
	if !d.Admitted {
		t.Fatalf("expected admission, got reason %q", d.Reason)
	}
}

func TestCheck_RejectsOverPerRequestCostCap(t *testing.T) {
	g := costgate.New()
	d := g.Check("user-1", types.TierFree, expensiveModel(), 100_000)
	if d.Admitted {
		t.Fatal("expected rejection for cost far above free tier per-request cap")
	}
	if d.Reason != "per_request_cost_cap_exceeded" {
		t.Errorf("Reason = %q, want per_request_cost_cap_exceeded", d.Reason)
	}
}

func TestCheck_RejectsOverPerRequestTokenCap(t *testing.T) {
	g := costgate.New()
	d := g.Check("user-1", types.TierFree, cheapModel(), 100_000)
	if d.Admitted {
		t.Fatal("expected rejection: free tier per-request token cap is 2000")
	}
	if d.Reason != "per_request_token_cap_exceeded" {
		t.Errorf("Reason = %q, want per_request_token_cap_exceeded", d.Reason)
	}
}

func TestCheck_HourlyRequestCapExhausted(t *testing.T) {
	g := costgate.New()
	m := cheapModel()
	// Free tier allows 15 requests/hour.
	for i := 0; i < 15; i++ {
		d := g.Check("user-2", types.TierFree, m, 100)
		if !d.Admitted {
			t.Fatalf("request %d: expected admission, got reason %q", i, d.Reason)
		}
		g.Commit("user-2", d.EstimatedCost, 100)
	}
	d := g.Check("user-2", types.TierFree, m, 100)
	if d.Admitted {
		t.Fatal("expected the 16th request within the hour to be rejected")
	}
	if d.Reason != "hourly_request_cap_exceeded" {
		t.Errorf("Reason = %q, want hourly_request_cap_exceeded", d.Reason)
	}
}

func TestCheck_EmergencyCostCeiling(t *testing.T) {
	g := costgate.New(costgate.WithEmergencyCostCeiling(0.01))
	// bigchonk tier's per-request cap (10.00) would otherwise admit this.
	m := provider.ModelDescriptor{CostPer1KPrompt: 1, CostPer1KCompletion: 1}
	d := g.Check("user-3", types.TierBigchonk, m, 1000)
	if d.Admitted {
		t.Fatal("expected rejection via emergency cost ceiling override")
	}
	if d.Reason != "emergency_cost_ceiling_exceeded" {
		t.Errorf("Reason = %q, want emergency_cost_ceiling_exceeded", d.Reason)
	}
}

func TestCheck_IndependentUsersDoNotShareCounters(t *testing.T) {
	g := costgate.New()
	m := cheapModel()
	for i := 0; i < 15; i++ {
		d := g.Check("user-a", types.TierFree, m, 100)
		g.Commit("user-a", d.EstimatedCost, 100)
	}
	d := g.Check("user-b", types.TierFree, m, 100)
	if !d.Admitted {
		t.Fatal("user-b should not be affected by user-a's exhausted hourly cap")
	}
}

func TestCheckTierAccess_RejectsExpensiveModelForFreeTier(t *testing.T) {
	if costgate.CheckTierAccess(types.TierFree, expensiveModel()) {
		t.Fatal("expected free tier to be denied access to an expensive model")
	}
	if !costgate.CheckTierAccess(types.TierFree, cheapModel()) {
		t.Fatal("expected free tier to be granted access to a cheap model")
	}
}

func TestValidateUserCredential_TierGate(t *testing.T) {
	validKey := "abcdefghijklmnopqrstuvwxyz012345"
	if err := costgate.ValidateUserCredential(types.TierFree, validKey); err == nil {
		t.Fatal("expected free tier to be denied user-supplied credentials")
	}
	if err := costgate.ValidateUserCredential(types.TierClawback, validKey); err != nil {
		t.Errorf("expected clawback tier to accept a well-formed key, got %v", err)
	}
}

func TestValidateUserCredential_FormatCheck(t *testing.T) {
	if err := costgate.ValidateUserCredential(types.TierClawback, "too-short"); err == nil {
		t.Fatal("expected rejection of a key under 20 characters")
	}
	if err := costgate.ValidateUserCredential(types.TierClawback, "not a url-safe key!!"); err == nil {
		t.Fatal("expected rejection of a key with non-URL-safe characters")
	}
}
