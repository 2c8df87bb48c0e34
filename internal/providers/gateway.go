package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
)

const (
	// DefaultTimeout bounds a single provider attempt.
	DefaultTimeout = 60 * time.Second
	// ErrorBodyExcerpt is how much of a provider error body is shown in the conversation.
	ErrorBodyExcerpt = 500
	// ContinuePrompt is sent once when a reply was cut off by the output limit.
	ContinuePrompt = "Please continue exactly where you left off."
)

// FailureKind tells the caller how a completion ended.
type FailureKind string

const (
	KindOK          FailureKind = "ok"
	KindRateLimited FailureKind = "rate_limited"
	KindAPIError    FailureKind = "api_error"
	KindTimeout     FailureKind = "timeout"
	KindConnection  FailureKind = "connection"
	KindConfig      FailureKind = "config"
)

// Request is one completion call through the gateway.
type Request struct {
	Provider   ProviderID
	Messages   []engine.ChatMessage
	Timeout    time.Duration // per attempt; 0 means DefaultTimeout
	MaxRetries int
}

// Completion is the outcome of Complete. Text is always renderable as an
// assistant turn, including when Kind reports a failure.
type Completion struct {
	Text      string
	Kind      FailureKind
	Provider  ProviderID
	Model     string
	Status    int // HTTP status for KindAPIError / KindRateLimited
	Attempts  int // provider calls made for the main request
	Truncated bool
	Continued bool
	Usage     engine.Usage
	Err       error // underlying failure, nil when Kind is KindOK
}

// OK reports whether the provider produced a reply.
func (c Completion) OK() bool {
	return c.Kind == KindOK
}

type registration struct {
	client engine.LLMClient
	model  string
}

// Gateway performs provider calls with bounded retries and maps every
// failure into an assistant-visible Completion. Calls share no mutable state.
type Gateway struct {
	mu           sync.RWMutex
	clients      map[ProviderID]registration
	backoff      engine.RetryPolicy
	opts         engine.ChatOptions
	continuation bool
	onRetry      func(provider ProviderID, attempt int, delay time.Duration, err error)
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithBackoff sets the delay shape used between retries. MaxRetries is taken from each Request.
func WithBackoff(policy engine.RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.backoff = policy }
}

// WithChatOptions sets max output length and temperature.
func WithChatOptions(opts engine.ChatOptions) GatewayOption {
	return func(g *Gateway) { g.opts = opts }
}

// WithContinuation toggles the single continuation call after a length-truncated reply.
func WithContinuation(enabled bool) GatewayOption {
	return func(g *Gateway) { g.continuation = enabled }
}

// WithRetryHook registers a callback invoked before every backoff sleep.
func WithRetryHook(hook func(provider ProviderID, attempt int, delay time.Duration, err error)) GatewayOption {
	return func(g *Gateway) { g.onRetry = hook }
}

// NewGateway creates an empty gateway; providers are added with Register.
func NewGateway(opts ...GatewayOption) *Gateway {
	g := &Gateway{
		clients:      make(map[ProviderID]registration),
		backoff:      engine.DefaultLLMRetryPolicy(),
		opts:         engine.DefaultChatOptions(),
		continuation: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register makes a provider selectable.
func (g *Gateway) Register(id ProviderID, client engine.LLMClient, model string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[id] = registration{client: client, model: model}
}

// Providers returns the registered provider ids sorted by name.
func (g *Gateway) Providers() []ProviderID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]ProviderID, 0, len(g.clients))
	for id := range g.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Has reports whether a provider is registered.
func (g *Gateway) Has(id ProviderID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.clients[id]
	return ok
}

// Complete sends req.Messages to the selected provider.
func (g *Gateway) Complete(ctx context.Context, req Request) Completion {
	g.mu.RLock()
	reg, ok := g.clients[req.Provider]
	g.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("provider %q is not configured", req.Provider)
		return Completion{
			Text:     fmt.Sprintf("❌ Error: %v", err),
			Kind:     KindConfig,
			Provider: req.Provider,
			Err:      err,
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	policy := g.backoff
	policy.MaxRetries = req.MaxRetries
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	slog.Debug("provider request",
		slog.String("provider", string(req.Provider)),
		slog.String("model", reg.model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("estimated_tokens", engine.EstimateMessagesTokens(req.Messages)),
	)

	resp, attempts, err := g.call(ctx, req.Provider, reg, req.Messages, timeout, policy)
	if err != nil {
		out := describeFailure(err, req.Provider, attempts, timeout)
		out.Model = reg.model
		slog.Warn("provider request failed",
			slog.String("provider", string(req.Provider)),
			slog.String("kind", string(out.Kind)),
			slog.Int("status", out.Status),
			slog.Int("attempts", attempts),
			slog.Any("error", err),
		)
		return out
	}

	out := Completion{
		Text:      resp.Assistant.Content,
		Kind:      KindOK,
		Provider:  req.Provider,
		Model:     reg.model,
		Attempts:  attempts,
		Truncated: resp.Truncated(),
		Usage:     resp.Usage,
	}

	if out.Truncated && g.continuation {
		g.continueReply(ctx, req.Provider, reg, req.Messages, timeout, policy, &out)
	}

	return out
}

// continueReply issues at most one follow-up call asking the model to finish a
// cut-off reply. Failures keep the partial text.
func (g *Gateway) continueReply(ctx context.Context, id ProviderID, reg registration, messages []engine.ChatMessage, timeout time.Duration, policy engine.RetryPolicy, out *Completion) {
	followUp := make([]engine.ChatMessage, 0, len(messages)+2)
	followUp = append(followUp, messages...)
	followUp = append(followUp,
		engine.ChatMessage{Role: engine.RoleAssistant, Content: out.Text},
		engine.ChatMessage{Role: engine.RoleUser, Content: ContinuePrompt},
	)

	resp, _, err := g.call(ctx, id, reg, followUp, timeout, policy)
	if err != nil {
		slog.Warn("continuation call failed, keeping partial reply",
			slog.String("provider", string(out.Provider)),
			slog.Any("error", err),
		)
		return
	}

	out.Text += resp.Assistant.Content
	out.Continued = true
	out.Truncated = resp.Truncated()
	out.Usage.Prompt += resp.Usage.Prompt
	out.Usage.Completion += resp.Usage.Completion
	out.Usage.Total += resp.Usage.Total
}

func (g *Gateway) call(ctx context.Context, id ProviderID, reg registration, messages []engine.ChatMessage, timeout time.Duration, policy engine.RetryPolicy) (engine.LLMResponse, int, error) {
	attempts := 0
	resp, err := engine.RetryWithPolicy(ctx, policy,
		func(ctx context.Context) (engine.LLMResponse, error) {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return reg.client.Chat(attemptCtx, reg.model, messages, g.opts)
		},
		engine.ClassifyLLMError,
		func(attempt int, delay time.Duration, err error) {
			slog.Info("retrying provider call",
				slog.String("provider", string(id)),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
			if g.onRetry != nil {
				g.onRetry(id, attempt, delay, err)
			}
		},
	)
	return resp, attempts, err
}

// describeFailure maps a provider error onto the assistant-visible text.
func describeFailure(err error, provider ProviderID, attempts int, timeout time.Duration) Completion {
	out := Completion{Provider: provider, Attempts: attempts, Err: err}
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	var engineErr *engine.EngineError
	hasEngineErr := errors.As(err, &engineErr)

	switch {
	case hasEngineErr && engineErr.HTTPStatus == http.StatusTooManyRequests:
		out.Kind = KindRateLimited
		out.Status = engineErr.HTTPStatus
		out.Text = fmt.Sprintf("⚠️ Rate limited by %s (HTTP 429) after %d retries. Please wait a moment and try again.", provider, retries)
	case hasEngineErr && !engineErr.IsNetwork:
		out.Kind = KindAPIError
		out.Status = engineErr.HTTPStatus
		body := engineErr.Body
		if body == "" {
			body = engineErr.Error()
		}
		out.Text = fmt.Sprintf("⚠️ API Error %d\n\n%s", engineErr.HTTPStatus, Excerpt(body, ErrorBodyExcerpt))
		switch {
		case engineErr.IsAuth:
			out.Text += fmt.Sprintf("\n\nCheck %s_API_KEY.", EnvPrefix(provider))
		case engineErr.IsQuota:
			out.Text += fmt.Sprintf("\n\nThe %s account is out of credit.", provider)
		}
	case isTimeoutErr(err, engineErr):
		out.Kind = KindTimeout
		out.Text = fmt.Sprintf("❌ Error: request to %s timed out after %d attempt(s) of %s each.", provider, attempts, timeout)
	default:
		out.Kind = KindConnection
		out.Text = fmt.Sprintf("❌ Error: %v", rootCause(err))
	}
	return out
}

func isTimeoutErr(err error, engineErr *engine.EngineError) bool {
	if engineErr != nil && engineErr.IsTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// rootCause strips the retry and classification wrappers.
func rootCause(err error) error {
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) && engineErr.Err != nil {
		return engineErr.Err
	}
	var exhausted *engine.RetryExhaustedError
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		return exhausted.Err
	}
	return err
}

// Excerpt returns at most limit characters of s.
func Excerpt(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
