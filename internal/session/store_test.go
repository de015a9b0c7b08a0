package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/example/modelgate/internal/session"
	"github.com/example/modelgate/internal/types"
)

type stubSummarizer struct{ calls int }

func (s *stubSummarizer) Summarize(ctx context.Context, messages []types.Message) (string, error) {
	s.calls++
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
	}
	return sb.String(), nil
}

func TestStore_CreateThenContextIsEmpty(t *testing.T) {
	st := session.NewStore(8192, &stubSummarizer{})
	defer st.Stop()

	st.Create("s1")
	if !st.Context("s1").Empty() {
		t.Fatal("freshly created session should be empty")
	}
}

func TestStore_AbsentSessionEquivalentToEmpty(t *testing.T) {
	st := session.NewStore(8192, &stubSummarizer{})
	defer st.Stop()

	if !st.Context("never-created").Empty() {
		t.Fatal("an absent session id should read as an empty context")
	}
}

func TestStore_AddMessagesPersistsAcrossCalls(t *testing.T) {
	st := session.NewStore(8192, &stubSummarizer{})
	defer st.Stop()

	st.Create("s1")
	ctx := st.Context("s1")
	if err := ctx.AddMessages(context.Background(), types.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}

	again := st.Context("s1")
	if len(again.Messages()) != 1 {
		t.Fatalf("len(Messages()) = %d, want 1", len(again.Messages()))
	}
}

func TestStore_DeleteRemovesState(t *testing.T) {
	st := session.NewStore(8192, &stubSummarizer{})
	defer st.Stop()

	st.Create("s1")
	ctx := st.Context("s1")
	_ = ctx.AddMessages(context.Background(), types.Message{Role: "user", Content: "hi"})

	st.Delete("s1")
	if !st.Context("s1").Empty() {
		t.Fatal("expected no observable state after Delete")
	}
}

func TestStore_SetAndGetPreference(t *testing.T) {
	st := session.NewStore(8192, &stubSummarizer{})
	defer st.Stop()

	st.Create("s1")
	ctx := st.Context("s1")
	ctx.SetPreference(types.TaskChat, "gpt-4o")

	got, ok := ctx.Preference(types.TaskChat)
	if !ok || got != "gpt-4o" {
		t.Fatalf("Preference() = (%q, %v), want (gpt-4o, true)", got, ok)
	}
}

func TestContext_SummarizesOldestHalfPastThreshold(t *testing.T) {
	summarizer := &stubSummarizer{}
	st := session.NewStore(40, summarizer) // small window forces summarization
	defer st.Stop()

	st.Create("s1")
	ctx := st.Context("s1")
	long := strings.Repeat("word ", 100)
	for i := 0; i < 4; i++ {
		if err := ctx.AddMessages(context.Background(), types.Message{Role: "user", Content: long}); err != nil {
			t.Fatalf("AddMessages() error = %v", err)
		}
	}

	if summarizer.calls == 0 {
		t.Fatal("expected the context to trigger summarization once the threshold was crossed")
	}
}

func TestStore_LockSerializesSameSessionID(t *testing.T) {
	st := session.NewStore(8192, &stubSummarizer{})
	defer st.Stop()
	st.Create("s1")

	unlock := st.Lock("s1")
	locked := make(chan struct{})
	go func() {
		u2 := st.Lock("s1")
		close(locked)
		u2()
	}()

	select {
	case <-locked:
		t.Fatal("second Lock should not succeed while the first is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("second Lock should have succeeded after the first was released")
	}
}

func TestStore_LockWithEmptySessionIDNeverBlocks(t *testing.T) {
	st := session.NewStore(8192, &stubSummarizer{})
	defer st.Stop()

	u1 := st.Lock("")
	u2 := st.Lock("")
	u1()
	u2()
}
