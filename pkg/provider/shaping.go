package provider

import (
	"strings"

	"github.com/example/modelgate/internal/types"
)

// BuildMessages assembles the canonical message sequence for req: it starts
// from req.Messages (or, if empty, wraps req.Content as a single user
// message), and injects kind's default system prompt when the caller didn't
// already supply one of its own.
func BuildMessages(req ProcessRequest) []types.Message {
	msgs := req.Messages
	if len(msgs) == 0 && req.Content != "" {
		msgs = []types.Message{{Role: "user", Content: req.Content}}
	}

	hasSystem := false
	for _, m := range msgs {
		if m.Role == "system" {
			hasSystem = true
			break
		}
	}
	if !hasSystem {
		if prompt := req.Task.DefaultSystemPrompt(); prompt != "" {
			out := make([]types.Message, 0, len(msgs)+1)
			out = append(out, types.Message{Role: "system", Content: prompt})
			out = append(out, msgs...)
			return out
		}
	}
	return msgs
}

// MergeConsecutiveSameRole collapses runs of consecutive messages sharing
// the same role into a single message, joining content with a blank line.
// Some vendor wire formats (notably Anthropic's) reject back-to-back
// same-role turns.
func MergeConsecutiveSameRole(msgs []types.Message) []types.Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]types.Message, 0, len(msgs))
	out = append(out, msgs[0])
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role && last.Role != "tool" {
			last.Content = last.Content + "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

// SplitSystem extracts leading system messages from msgs, returning the
// joined system text and the remaining non-system messages. Used by vendor
// drivers (Anthropic, and any wire format with a top-level system field)
// that carry the system prompt out-of-band from the turn sequence.
func SplitSystem(msgs []types.Message) (system string, rest []types.Message) {
	var sysParts []string
	for _, m := range msgs {
		if m.Role == "system" {
			sysParts = append(sysParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sysParts, "\n\n"), rest
}

// EnsureAlternation fixes up rest (assumed system-free) so it strictly
// alternates user/assistant starting with user, as the Anthropic Messages
// API requires. A leading assistant message is dropped; an empty result
// after trimming gets a single placeholder user turn so the request
// remains well-formed.
func EnsureAlternation(msgs []types.Message) []types.Message {
	merged := MergeConsecutiveSameRole(msgs)
	for len(merged) > 0 && merged[0].Role != "user" {
		merged = merged[1:]
	}
	if len(merged) == 0 {
		return []types.Message{{Role: "user", Content: ""}}
	}
	return merged
}

// EstimateCharsPerToken is the heuristic fallback ratio used by vendor
// drivers with no tokenizer of their own.
const EstimateCharsPerToken = 4

// EstimateTokensHeuristic estimates token count for s using the chars/4
// heuristic, a conservative fallback for vendors lacking an exact
// tokenizer.
func EstimateTokensHeuristic(s string) int {
	n := len(s) / EstimateCharsPerToken
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
