package costgate

import (
	"log/slog"
	"sync/atomic"
)

// Persister is the optional hook for the spending-limit state spec.md §6
// describes as persistable. The Gate is fully functional with no Persister
// configured — every counter lives in memory for the process lifetime.
type Persister interface {
	PersistSpend(userID string, actualCost float64, actualTokens int) error
}

type noopPersister struct{}

func (noopPersister) PersistSpend(string, float64, int) error { return nil }

// GuardedPersister wraps a Persister so a failing backing store degrades
// the Gate to memory-only counters, logging a warning, instead of letting
// a storage failure affect Commit's caller.
type GuardedPersister struct {
	inner    Persister
	degraded atomic.Bool
}

// NewGuardedPersister wraps inner so its failures never reach Commit's
// caller.
func NewGuardedPersister(inner Persister) *GuardedPersister {
	return &GuardedPersister{inner: inner}
}

// PersistSpend delegates to the wrapped Persister, swallowing and logging
// any error.
func (g *GuardedPersister) PersistSpend(userID string, actualCost float64, actualTokens int) error {
	if err := g.inner.PersistSpend(userID, actualCost, actualTokens); err != nil {
		g.degraded.Store(true)
		slog.Warn("costgate: persistence backend failed, continuing memory-only", "user_id", userID, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent persist attempt failed.
func (g *GuardedPersister) IsDegraded() bool { return g.degraded.Load() }
