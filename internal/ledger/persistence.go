package ledger

import (
	"log/slog"
	"sync/atomic"
)

// Persister is the optional hook for the usage_logs/task_performance rows
// spec.md §6 describes. The ledger is fully functional with no Persister
// configured — persistence is a hook, not a requirement of the core.
type Persister interface {
	PersistOutcome(modelID string, outcome Outcome) error
}

type noopPersister struct{}

func (noopPersister) PersistOutcome(string, Outcome) error { return nil }

// GuardedPersister wraps a Persister and makes every call non-fatal: a
// failing backing store degrades to memory-only logging a warning rather
// than propagating an error to RecordOutcome's caller, mirroring the
// degrade-on-failure behavior of costgate's GuardedPersister for spend
// persistence.
type GuardedPersister struct {
	inner    Persister
	degraded atomic.Bool
}

// NewGuardedPersister wraps inner so its failures never reach the ledger's
// hot path.
func NewGuardedPersister(inner Persister) *GuardedPersister {
	return &GuardedPersister{inner: inner}
}

// PersistOutcome delegates to the wrapped Persister, swallowing and logging
// any error.
func (g *GuardedPersister) PersistOutcome(modelID string, outcome Outcome) error {
	if err := g.inner.PersistOutcome(modelID, outcome); err != nil {
		g.degraded.Store(true)
		slog.Warn("ledger: persistence backend failed, continuing memory-only", "model_id", modelID, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent persist attempt failed.
func (g *GuardedPersister) IsDegraded() bool { return g.degraded.Load() }
