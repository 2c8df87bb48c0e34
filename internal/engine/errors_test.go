package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyLLMError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RetryClass
	}{
		{"nil", nil, RetryClassNonRetryable},
		{"rate limit text", errors.New("429 Too Many Requests"), RetryClassRetryable},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), RetryClassRetryable},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), RetryClassRetryable},
		{"cancelled", fmt.Errorf("post: %w", context.Canceled), RetryClassNonRetryable},
		{"server error text", errors.New("500 internal server error"), RetryClassNonRetryable},
		{"unknown", errors.New("something odd"), RetryClassNonRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyLLMError(tt.err); got != tt.want {
				t.Errorf("ClassifyLLMError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapLLMError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantClass  RetryClass
		rateLimit  bool
		network    bool
		wantStatus int
	}{
		{"rate limited", http.StatusTooManyRequests, RetryClassRetryable, true, false, 429},
		{"server error", http.StatusInternalServerError, RetryClassNonRetryable, false, false, 500},
		{"unauthorized", http.StatusUnauthorized, RetryClassNonRetryable, false, false, 401},
		{"gateway timeout", http.StatusGatewayTimeout, RetryClassNonRetryable, false, false, 504},
		{"request timeout", http.StatusRequestTimeout, RetryClassNonRetryable, false, false, 408},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapLLMError(errors.New("provider said no"), tt.status, "body", "")
			var engineErr *EngineError
			if !errors.As(err, &engineErr) {
				t.Fatalf("expected *EngineError, got %T", err)
			}
			if engineErr.Class != tt.wantClass {
				t.Errorf("Class = %v, want %v", engineErr.Class, tt.wantClass)
			}
			if engineErr.IsRateLimit != tt.rateLimit {
				t.Errorf("IsRateLimit = %v, want %v", engineErr.IsRateLimit, tt.rateLimit)
			}
			if engineErr.IsNetwork != tt.network {
				t.Errorf("IsNetwork = %v, want %v", engineErr.IsNetwork, tt.network)
			}
			if engineErr.IsTimeout {
				t.Error("an HTTP answer is never a client-side timeout")
			}
			if engineErr.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", engineErr.HTTPStatus, tt.wantStatus)
			}
			if engineErr.Body != "body" {
				t.Errorf("Body = %q, want body", engineErr.Body)
			}
		})
	}

	if WrapLLMError(nil, 500, "", "") != nil {
		t.Error("WrapLLMError(nil) should be nil")
	}
}

func TestWrapLLMError_TransportFailure(t *testing.T) {
	err := WrapLLMError(fmt.Errorf("post: %w", context.DeadlineExceeded), 0, "", "")
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected *EngineError, got %T", err)
	}
	if engineErr.Class != RetryClassRetryable {
		t.Errorf("Class = %v, want retryable", engineErr.Class)
	}
	if !engineErr.IsTimeout || !engineErr.IsNetwork {
		t.Errorf("expected timeout+network flags, got timeout=%v network=%v", engineErr.IsTimeout, engineErr.IsNetwork)
	}
}
