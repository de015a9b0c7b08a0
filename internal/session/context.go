// Package session implements the gateway's per-session conversation
// history: an ordered message log that Process calls sharing a session id
// read and extend, an automatic summarization step that keeps that log
// within a model's context window, and a background reaper that evicts
// sessions that have gone idle.
package session

import (
	"context"
	"sync"

	"github.com/example/modelgate/internal/tokencount"
	"github.com/example/modelgate/internal/types"
)

// defaultThresholdRatio is the fraction of a model's context window at
// which the oldest half of a session's messages are summarized away.
const defaultThresholdRatio = 0.75

// Summarizer condenses a message sequence into a single summary string.
// The Facade supplies the concrete implementation, backed by the Router
// and a model that supports types.TaskSummarization — the session package
// itself holds no reference to the Router, Registry, or Cost Gate, keeping
// the dependency one-way per spec.md §9's "cyclic references" design note.
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.Message) (string, error)
}

// Context is one session's running conversation history and per-task model
// preferences. The zero value is not usable; construct via newContext.
//
// All methods are safe for concurrent use.
type Context struct {
	maxContextTokens int
	thresholdRatio   float64
	summarizer       Summarizer

	mu            sync.Mutex
	currentTokens int
	messages      []types.Message
	summaries     []string
	preferences   map[types.TaskKind]string // task kind -> pinned model id
}

func newContext(maxContextTokens int, summarizer Summarizer) *Context {
	return &Context{
		maxContextTokens: maxContextTokens,
		thresholdRatio:   defaultThresholdRatio,
		summarizer:       summarizer,
		messages:         make([]types.Message, 0),
		summaries:        make([]string, 0),
		preferences:      make(map[types.TaskKind]string),
	}
}

// AddMessages appends msgs to the session's history, triggering
// summarization of the oldest half of the log if the estimated token count
// now exceeds thresholdRatio × maxContextTokens.
func (c *Context) AddMessages(ctx context.Context, msgs ...types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range msgs {
		c.messages = append(c.messages, m)
	}
	c.currentTokens = tokencount.EstimateRequestTokens(types.OpenAI, "", c.messages)

	if c.maxContextTokens <= 0 {
		return nil
	}
	threshold := int(float64(c.maxContextTokens) * c.thresholdRatio)
	if c.currentTokens > threshold && len(c.messages) > 1 {
		return c.summarizeOldest(ctx)
	}
	return nil
}

// Messages returns the session's current history, with any accumulated
// summaries prepended as system messages.
func (c *Context) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Message, 0, len(c.summaries)+len(c.messages))
	for _, s := range c.summaries {
		out = append(out, types.Message{Role: "system", Content: "[previous conversation summary]: " + s})
	}
	out = append(out, c.messages...)
	return out
}

// SetPreference pins task to modelID for subsequent Process calls against
// this session, implementing setTaskModelPreferences (spec.md §6).
func (c *Context) SetPreference(task types.TaskKind, modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferences[task] = modelID
}

// Preference returns the pinned model id for task, if any.
func (c *Context) Preference(task types.TaskKind) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.preferences[task]
	return m, ok
}

// Empty reports whether the session carries no observable state, per
// spec.md §8's "empty session context is semantically equivalent to absent
// session context" boundary case.
func (c *Context) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) == 0 && len(c.summaries) == 0 && len(c.preferences) == 0
}

// summarizeOldest compresses the oldest half of c.messages via c.summarizer.
// Must be called with c.mu held; temporarily releases it across the
// (suspending) summarization call, consistent with spec.md §5's rule that
// locks are never held across a suspension point.
func (c *Context) summarizeOldest(ctx context.Context) error {
	half := len(c.messages) / 2
	if half == 0 {
		half = 1
	}
	toSummarize := make([]types.Message, half)
	copy(toSummarize, c.messages[:half])

	c.mu.Unlock()
	summary, err := c.summarizer.Summarize(ctx, toSummarize)
	c.mu.Lock()
	if err != nil {
		return err
	}

	c.messages = c.messages[half:]
	c.summaries = append(c.summaries, summary)
	c.currentTokens = tokencount.EstimateRequestTokens(types.OpenAI, "", c.messages)
	return nil
}
