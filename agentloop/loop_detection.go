package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/repair"
)

// toolCallSignature computes a deterministic signature for a tool call
// from its name and repaired arguments, so formatting differences between
// otherwise identical calls do not hide a loop.
func toolCallSignature(call conversation.ToolCall) string {
	canonical := repair.Normalize(call.Arguments)
	if args, err := repair.Arguments(call.Arguments); err == nil {
		if data, err := json.Marshal(args); err == nil {
			canonical = string(data)
		}
	}
	h := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// extractToolCallSignatures returns the signatures of the most recent count
// tool calls in chronological order.
func extractToolCallSignatures(history []conversation.Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		m := history[i]
		if !m.HasToolCalls() {
			continue
		}
		for j := len(m.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(m.ToolCalls[j]))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize tool calls follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(history []conversation.Message, windowSize int) bool {
	if windowSize <= 1 {
		return false
	}
	sigs := extractToolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i++ {
			if sigs[i] != sigs[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
