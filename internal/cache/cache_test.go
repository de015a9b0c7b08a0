package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/modelgate/internal/cache"
	"github.com/example/modelgate/internal/types"
)

func TestFingerprint_DeterministicForIdenticalInput(t *testing.T) {
	in := cache.FingerprintInput{Task: types.TaskSummarization, Content: "hello world", MaxTokens: 256, Temperature: 0.7}
	if cache.Fingerprint(in) != cache.Fingerprint(in) {
		t.Fatal("Fingerprint should be deterministic for identical input")
	}
}

func TestFingerprint_DiffersOnContent(t *testing.T) {
	a := cache.Fingerprint(cache.FingerprintInput{Task: types.TaskSummarization, Content: "hello"})
	b := cache.Fingerprint(cache.FingerprintInput{Task: types.TaskSummarization, Content: "goodbye"})
	if a == b {
		t.Fatal("expected different fingerprints for different content")
	}
}

func TestFingerprint_DiffersOnPinnedModel(t *testing.T) {
	a := cache.Fingerprint(cache.FingerprintInput{Task: types.TaskChat, Content: "x", PinnedModel: "gpt-4o"})
	b := cache.Fingerprint(cache.FingerprintInput{Task: types.TaskChat, Content: "x", PinnedModel: "claude-opus-4-1"})
	if a == b {
		t.Fatal("expected different fingerprints for different pinned models")
	}
}

func TestFingerprint_MessageOrderMatters(t *testing.T) {
	a := cache.Fingerprint(cache.FingerprintInput{Task: types.TaskChat, Messages: []types.Message{
		{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"},
	}})
	b := cache.Fingerprint(cache.FingerprintInput{Task: types.TaskChat, Messages: []types.Message{
		{Role: "assistant", Content: "b"}, {Role: "user", Content: "a"},
	}})
	if a == b {
		t.Fatal("expected different fingerprints for reordered messages")
	}
}

func TestCache_LocalOnly_SetThenGet(t *testing.T) {
	c := cache.New()
	defer c.Stop()

	entry := cache.Entry{Content: "hi", ModelID: "gpt-4o", ProviderID: types.OpenAI}
	c.Set(context.Background(), "key1", entry, time.Minute)

	got, ok := c.Get(context.Background(), "key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Content != "hi" {
		t.Errorf("Content = %q, want hi", got.Content)
	}
}

func TestCache_ExpiredEntry_IsMiss(t *testing.T) {
	c := cache.New()
	defer c.Stop()

	c.Set(context.Background(), "key1", cache.Entry{Content: "hi"}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(context.Background(), "key1"); ok {
		t.Fatal("expected expired entry to be a miss")
	}
}

func TestCache_UnknownKey_IsMiss(t *testing.T) {
	c := cache.New()
	defer c.Stop()
	if _, ok := c.Get(context.Background(), "nope"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestCache_RemoteTier_PreferredOverLocal(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.New(cache.WithRemote(client))
	defer c.Stop()

	c.Set(context.Background(), "k", cache.Entry{Content: "remote-value"}, time.Minute)

	got, ok := c.Get(context.Background(), "k")
	if !ok {
		t.Fatal("expected cache hit via remote tier")
	}
	if got.Content != "remote-value" {
		t.Errorf("Content = %q, want remote-value", got.Content)
	}
}

func TestCache_RemoteUnavailable_FallsBackToLocal(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.New(cache.WithRemote(client))
	defer c.Stop()

	c.Set(context.Background(), "k", cache.Entry{Content: "value"}, time.Minute)
	mr.Close() // remote now unreachable; local copy should still answer

	got, ok := c.Get(context.Background(), "k")
	if !ok {
		t.Fatal("expected local fallback hit after remote became unavailable")
	}
	if got.Content != "value" {
		t.Errorf("Content = %q, want value", got.Content)
	}
}
