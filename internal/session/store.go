package session

import (
	"sync"
	"time"
)

// defaultIdleTTL is how long a session may sit unused before the reaper
// evicts it. spec.md §9 leaves the invalidation policy to the
// implementer; deleteSession remains synchronous and authoritative
// regardless of this background sweep.
const defaultIdleTTL = 2 * time.Hour

// defaultSweepInterval mirrors the teacher's consolidation loop's
// ticker-based shape, scaled down from a 30-minute conversation-flush
// period to a 5-minute idle-session check.
const defaultSweepInterval = 5 * time.Minute

type entry struct {
	ctx      *Context
	lock     *sync.Mutex
	lastUsed time.Time
}

// Store holds one Context per session id, serializing Process calls that
// share a session id via a per-session lock and evicting sessions idle
// longer than ttl.
//
// All methods are safe for concurrent use.
type Store struct {
	maxContextTokens int
	summarizer       Summarizer
	ttl              time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTTL overrides the default 2-hour idle eviction window.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewStore constructs a Store. maxContextTokens bounds the history kept per
// session before summarization kicks in; summarizer performs that
// summarization. The background reaper starts immediately.
func NewStore(maxContextTokens int, summarizer Summarizer, opts ...Option) *Store {
	s := &Store{
		maxContextTokens: maxContextTokens,
		summarizer:       summarizer,
		ttl:              defaultIdleTTL,
		entries:          make(map[string]*entry),
		done:             make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.sweepLoop()
	return s
}

// Create initializes an empty session context for sessionID, replacing any
// existing one. Implements createSession (spec.md §6).
func (s *Store) Create(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = &entry{
		ctx:      newContext(s.maxContextTokens, s.summarizer),
		lock:     &sync.Mutex{},
		lastUsed: time.Now(),
	}
}

// Delete removes sessionID's state synchronously. Implements deleteSession
// (spec.md §6); always honored regardless of any in-flight background
// sweep, per spec.md §9's open question resolution.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}

// getOrCreate returns sessionID's entry, lazily creating one if absent —
// an empty session context is semantically equivalent to an absent one
// (spec.md §8), so Process may address a session id it never explicitly
// created.
func (s *Store) getOrCreate(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		e = &entry{ctx: newContext(s.maxContextTokens, s.summarizer), lock: &sync.Mutex{}}
		s.entries[sessionID] = e
	}
	e.lastUsed = time.Now()
	return e
}

// Context returns sessionID's conversation history, creating an empty one
// if it does not yet exist.
func (s *Store) Context(sessionID string) *Context {
	if sessionID == "" {
		return newContext(s.maxContextTokens, s.summarizer)
	}
	return s.getOrCreate(sessionID).ctx
}

// Lock acquires sessionID's per-session mutex and returns the function
// that releases it, serializing Process calls sharing a session id per
// spec.md §5's ordering guarantee. A zero-value sessionID is never
// serialized against anything else, since callers that omit a session id
// have no session state to race over.
func (s *Store) Lock(sessionID string) (unlock func()) {
	if sessionID == "" {
		return func() {}
	}
	e := s.getOrCreate(sessionID)
	e.lock.Lock()
	return e.lock.Unlock
}

// sweepLoop evicts sessions idle longer than s.ttl, checked every
// defaultSweepInterval.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.lastUsed.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// Stop halts the background reaper. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
