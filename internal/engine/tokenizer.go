// Package engine provides the provider-agnostic chat types and call policies.
// This file contains token estimation used for request logging.

package engine

import "strings"

// EstimateTokens provides a rough token count estimation.
// Uses a simple heuristic: ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	// (characters / 4) + (whitespace / 6)
	estimated := (charCount / 4) + (whitespaceCount / 6)

	if estimated < 1 {
		return 1
	}

	return estimated
}

// EstimateMessagesTokens sums the estimate over a request, counting the role name of each entry.
func EstimateMessagesTokens(messages []ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(string(msg.Role))
		total += EstimateTokens(msg.Content)
	}
	return total
}
