// Package tokencount estimates token counts for a request before it is
// sent to a vendor, feeding the cost gate's pre-flight estimate. Models of
// the openai provider get an exact cl100k_base tokenizer count; every other
// provider, including the OpenAI-compatible mistral, deepseek and
// openrouter drivers, falls back to the chars/4 heuristic the teacher uses.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/example/modelgate/internal/types"
	"github.com/example/modelgate/pkg/provider"
)

// Estimator counts tokens for a message sequence or a single string.
type Estimator interface {
	Count(content string) int
	CountMessages(msgs []types.Message) int
}

// tiktokenEstimator wraps a cl100k_base encoding, the tokenizer shared by
// the GPT-3.5/GPT-4/GPT-4o family.
type tiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

func (e *tiktokenEstimator) Count(content string) int {
	if content == "" {
		return 0
	}
	return len(e.enc.Encode(content, nil, nil))
}

// CountMessages adds OpenAI's documented per-message overhead (4 tokens for
// role/formatting, plus a constant 2-token reply primer) to the raw content
// token count.
func (e *tiktokenEstimator) CountMessages(msgs []types.Message) int {
	total := 2
	for _, m := range msgs {
		total += 4 + e.Count(m.Content)
	}
	return total
}

// heuristicEstimator is the chars/4 fallback for vendors without a known
// exact tokenizer (every provider except OpenAI itself: Anthropic, Mistral,
// DeepSeek, Qwen, HuggingFace, OpenRouter).
type heuristicEstimator struct{}

func (heuristicEstimator) Count(content string) int {
	return provider.EstimateTokensHeuristic(content)
}

func (h heuristicEstimator) CountMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += h.Count(m.Content) + 4
	}
	return total
}

var (
	once         sync.Once
	tiktokenEnc  *tiktokenEstimator
	tiktokenErr  error
)

func loadTiktoken() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		tiktokenErr = err
		return
	}
	tiktokenEnc = &tiktokenEstimator{enc: enc}
}

// ForProvider returns the appropriate Estimator for providerID. OpenAI uses
// the exact tokenizer; every other vendor uses the heuristic fallback,
// since their tokenizers are not modeled by tiktoken-go.
func ForProvider(providerID types.ProviderID) Estimator {
	if providerID != types.OpenAI {
		return heuristicEstimator{}
	}
	once.Do(loadTiktoken)
	if tiktokenErr != nil || tiktokenEnc == nil {
		return heuristicEstimator{}
	}
	return tiktokenEnc
}

// EstimateRequestTokens estimates the prompt-side token count for a
// process request, used by the cost gate's pre-flight check before a
// driver is ever invoked.
func EstimateRequestTokens(providerID types.ProviderID, content string, msgs []types.Message) int {
	est := ForProvider(providerID)
	if len(msgs) > 0 {
		return est.CountMessages(msgs)
	}
	if content == "" {
		return 0
	}
	if strings.TrimSpace(content) == "" {
		return 0
	}
	return est.Count(content)
}
