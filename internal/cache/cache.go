// Package cache implements the Response Cache: a two-tier (remote KV +
// in-process map) store keyed by a deterministic request fingerprint, with
// a periodic sweeper that evicts expired entries from the local tier. The
// in-process map has no entry-count limit; only expiry removes entries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/modelgate/internal/types"
)

// DefaultTTL is the cache entry lifetime used when none is configured.
const DefaultTTL = time.Hour

// FingerprintInput carries every field the cache key is derived from, per
// the specification's key composition: task kind, content digest, pinned
// provider/model, max tokens, temperature, and template id.
type FingerprintInput struct {
	Task            types.TaskKind
	Content         string
	Messages        []types.Message
	PinnedProvider  types.ProviderID
	PinnedModel     string
	MaxTokens       int
	Temperature     float64
	TemplateID      string
}

// Fingerprint computes the deterministic cache key for in, separator-joined
// across each component in the specification's declared order. The content
// digest is a 64-bit hash: for a plain string, the hash of its UTF-8 bytes;
// for a message sequence, the hash of its JSON-canonical {role, content}
// form, preserving message order.
func Fingerprint(in FingerprintInput) string {
	var digest uint64
	if len(in.Messages) > 0 {
		digest = hashMessages(in.Messages)
	} else {
		digest = xxhash.Sum64String(in.Content)
	}

	parts := []string{
		string(in.Task),
		strconv.FormatUint(digest, 16),
		string(in.PinnedProvider),
		in.PinnedModel,
		strconv.Itoa(in.MaxTokens),
		strconv.FormatFloat(in.Temperature, 'f', -1, 64),
		in.TemplateID,
	}
	return strings.Join(parts, "|")
}

type canonicalMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func hashMessages(msgs []types.Message) uint64 {
	canon := make([]canonicalMessage, len(msgs))
	for i, m := range msgs {
		canon[i] = canonicalMessage{Role: m.Role, Content: m.Content}
	}
	// encoding/json preserves struct field order, giving a stable
	// canonical form independent of map iteration order.
	data, err := json.Marshal(canon)
	if err != nil {
		// Unreachable for well-formed strings; fall back to a
		// deterministic, if degenerate, digest rather than panicking.
		return xxhash.Sum64String(fmt.Sprintf("%v", canon))
	}
	return xxhash.Sum64(data)
}

// Entry is a cached response, mirroring the specification's CachedResponse.
type Entry struct {
	Content      string            `json:"content"`
	ModelID      string            `json:"model_id"`
	ProviderID   types.ProviderID  `json:"provider_id"`
	TotalTokens  int               `json:"total_tokens"`
	StoredAt     time.Time         `json:"stored_at"`
	TTL          time.Duration     `json:"ttl"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// Expired reports whether e must no longer be served as of now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

// Cache is the two-tier Response Cache. Reads consult the remote tier
// first, falling back to the local map on a miss or transient remote
// failure. Writes always populate the local map and, when a remote client
// is configured, attempt the remote tier too — a remote write failure
// degrades silently to local-only, logging a warning, and the next write
// retries the remote tier again (no circuit breaker is held open against
// it).
type Cache struct {
	remote     *redis.Client
	defaultTTL time.Duration

	mu    sync.RWMutex
	local map[string]Entry

	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithRemote attaches a redis-compatible remote tier. Passing a nil client
// is equivalent to omitting this option: the cache runs local-only.
func WithRemote(client *redis.Client) Option {
	return func(c *Cache) { c.remote = client }
}

// WithDefaultTTL overrides the default entry lifetime (1 hour).
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// New constructs a Cache and starts its local-tier sweeper goroutine, which
// evicts expired entries every 60 seconds.
func New(opts ...Option) *Cache {
	c := &Cache{
		defaultTTL: DefaultTTL,
		local:      make(map[string]Entry),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if c.remote != nil {
		if e, ok := c.getRemote(ctx, key); ok {
			return e, true
		}
	}
	return c.getLocal(key)
}

func (c *Cache) getLocal(key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.local[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if e.Expired(time.Now()) {
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) getRemote(ctx context.Context, key string) (Entry, bool) {
	data, err := c.remote.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache: remote get failed, falling back to local tier", "error", err)
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		slog.Warn("cache: remote entry failed to decode", "error", err)
		return Entry{}, false
	}
	if e.Expired(time.Now()) {
		return Entry{}, false
	}
	return e, true
}

// Set writes entry under key with ttl (the cache's default if ttl <= 0),
// into the local tier unconditionally and the remote tier when configured.
// Every call replaces whatever is stored under key: concurrent writers to
// the same key race and the last write wins. Set does not coalesce
// concurrent misses for the same key — callers needing single-flight
// semantics must layer it above.
func (c *Cache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	entry.StoredAt = time.Now()
	entry.TTL = ttl

	c.mu.Lock()
	c.local[key] = entry
	c.mu.Unlock()

	if c.remote == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("cache: failed to encode entry for remote tier", "error", err)
		return
	}
	if err := c.remote.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Warn("cache: remote write failed, degrading to local-only for this entry", "error", err)
	}
}

// sweepLoop evicts expired entries from the local tier every 60 seconds.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.local {
		if e.Expired(now) {
			delete(c.local, k)
		}
	}
}

// Stop halts the sweeper goroutine. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
