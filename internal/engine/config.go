package engine

import "time"

// DefaultLLMRetryPolicy returns the backoff used for provider calls.
func DefaultLLMRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultChatOptions are the sampling knobs sent with every completion request.
func DefaultChatOptions() ChatOptions {
	return ChatOptions{
		Temperature:     0.7,
		MaxOutputTokens: 2048,
	}
}
