package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ChamsBouzaiene/shiva/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements engine.LLMClient for OpenAI and every
// OpenAI-compatible endpoint (Sarvam, DeepSeek, Groq, Ollama, ...).
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates a new OpenAI client for the engine.
func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &errorRecorder{doer: &http.Client{}}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   modelName,
		baseURL: baseURL,
	}, nil
}

// Model returns the default model name this client was configured with.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Chat implements engine.LLMClient.Chat by calling the chat completions endpoint.
func (c *OpenAIClient) Chat(ctx context.Context, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) (engine.LLMResponse, error) {
	if modelName == "" {
		modelName = c.model
	}

	openaiMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case engine.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case engine.RoleUser:
			role = openai.ChatMessageRoleUser
		case engine.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			return engine.LLMResponse{}, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: openaiMsgs,
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	failure := &failedResponse{}
	resp, err := c.client.CreateChatCompletion(withFailedResponse(ctx, failure), req)
	if err != nil {
		httpStatus, body, retryAfter := extractOpenAIErrorMetadata(err, failure)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, body, retryAfter)
	}

	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("empty response from %s", modelName)
	}

	choice := resp.Choices[0]

	finishReason := engine.FinishReasonStop
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		finishReason = engine.FinishReasonLength
	case openai.FinishReasonContentFilter:
		finishReason = engine.FinishReasonContentFilter
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{
			Role:    engine.RoleAssistant,
			Content: choice.Message.Content,
		},
		Usage: engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
	}, nil
}

// extractOpenAIErrorMetadata pulls the HTTP status and body out of SDK errors,
// falling back to message inspection for errors the SDK did not type. The raw
// body and Retry-After header recorded from the response win over what the
// SDK decoded.
func extractOpenAIErrorMetadata(err error, failure *failedResponse) (int, string, string) {
	var status int
	var body, retryAfter string

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, body, retryAfter = apiErr.HTTPStatusCode, apiErr.Message, extractRetryAfter(err.Error())
	case errors.As(err, &reqErr):
		status, body, retryAfter = reqErr.HTTPStatusCode, string(reqErr.Body), extractRetryAfter(err.Error())
	default:
		return extractErrorMetadata(err)
	}

	if failure != nil && failure.status == status {
		if len(failure.body) > 0 {
			body = string(failure.body)
		}
		if failure.retryAfter != "" {
			retryAfter = failure.retryAfter
		}
	}
	return status, body, retryAfter
}

// maxRecordedBody bounds how much of an error body is kept in memory.
const maxRecordedBody = 64 << 10

// failedResponse holds what the provider sent back on a non-2xx answer.
type failedResponse struct {
	status     int
	body       []byte
	retryAfter string
}

type failedResponseKey struct{}

func withFailedResponse(ctx context.Context, f *failedResponse) context.Context {
	return context.WithValue(ctx, failedResponseKey{}, f)
}

// errorRecorder copies error responses into the request's failedResponse
// before the SDK decodes them, so the raw provider text reaches the user.
type errorRecorder struct {
	doer openai.HTTPDoer
}

func (r *errorRecorder) Do(req *http.Request) (*http.Response, error) {
	resp, err := r.doer.Do(req)
	if err != nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}
	f, ok := req.Context().Value(failedResponseKey{}).(*failedResponse)
	if !ok {
		return resp, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRecordedBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		return resp, nil
	}

	f.status = resp.StatusCode
	f.body = body
	f.retryAfter = resp.Header.Get("Retry-After")
	return resp, nil
}
