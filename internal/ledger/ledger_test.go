package ledger

import (
	"testing"
	"time"
)

func TestLedger_RecordOutcome_SuccessRateAndErrorRate(t *testing.T) {
	l := New()
	now := time.Now()

	successes := 7
	failures := 3
	for i := 0; i < successes; i++ {
		l.RecordOutcome("gpt-4o", Outcome{Success: true, LatencyMS: 100, At: now})
	}
	for i := 0; i < failures; i++ {
		l.RecordOutcome("gpt-4o", Outcome{Success: false, ErrorKind: "RateLimited", At: now})
	}

	snap := l.Snapshot("gpt-4o")
	if snap.TotalRequests != successes+failures {
		t.Fatalf("TotalRequests = %d, want %d", snap.TotalRequests, successes+failures)
	}
	wantSuccessRate := float64(successes) / float64(successes+failures)
	if got := snap.Reliability(); got != wantSuccessRate {
		t.Errorf("Reliability() = %v, want %v", got, wantSuccessRate)
	}
	wantErrorRate := float64(failures) / float64(successes+failures)
	if snap.ErrorRate != wantErrorRate {
		t.Errorf("ErrorRate = %v, want %v", snap.ErrorRate, wantErrorRate)
	}
}

func TestLedger_AvgResponseTime_RunningMean(t *testing.T) {
	l := New()
	now := time.Now()

	l.RecordOutcome("claude-opus", Outcome{Success: true, LatencyMS: 100, At: now})
	l.RecordOutcome("claude-opus", Outcome{Success: true, LatencyMS: 200, At: now})
	l.RecordOutcome("claude-opus", Outcome{Success: true, LatencyMS: 300, At: now})

	snap := l.Snapshot("claude-opus")
	want := 200.0
	if snap.AvgResponseTimeMS != want {
		t.Errorf("AvgResponseTimeMS = %v, want %v", snap.AvgResponseTimeMS, want)
	}
}

func TestLedger_Snapshot_UnknownModel_ReturnsZeroValueOptimistic(t *testing.T) {
	l := New()
	snap := l.Snapshot("never-seen")
	if snap.TotalRequests != 0 {
		t.Fatalf("TotalRequests = %d, want 0", snap.TotalRequests)
	}
	if got := snap.Reliability(); got != 1.0 {
		t.Errorf("Reliability() for unseen model = %v, want 1.0 (optimistic default)", got)
	}
}

func TestLedger_RecentEvents_BoundedRingBuffer(t *testing.T) {
	l := New()
	now := time.Now()

	for i := 0; i < MaxPerformanceEvents+50; i++ {
		l.RecordOutcome("model-x", Outcome{Success: true, LatencyMS: float64(i), At: now})
	}

	events := l.RecentEvents("model-x", 0)
	if len(events) != MaxPerformanceEvents {
		t.Fatalf("len(events) = %d, want %d (FIFO-capped)", len(events), MaxPerformanceEvents)
	}
	// Newest first: the very last recorded outcome had LatencyMS == count-1.
	if events[0].LatencyMS != float64(MaxPerformanceEvents+49) {
		t.Errorf("events[0].LatencyMS = %v, want %v", events[0].LatencyMS, float64(MaxPerformanceEvents+49))
	}
}

func TestLedger_IndependentModels_DoNotInterfere(t *testing.T) {
	l := New()
	now := time.Now()

	l.RecordOutcome("model-a", Outcome{Success: true, LatencyMS: 50, At: now})
	l.RecordOutcome("model-b", Outcome{Success: false, At: now})

	if l.Snapshot("model-a").FailedRequests != 0 {
		t.Error("model-a should have no failures")
	}
	if l.Snapshot("model-b").SuccessfulRequests != 0 {
		t.Error("model-b should have no successes")
	}
}
