package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
)

// ProviderID names one of the supported hosted completion providers.
type ProviderID string

const (
	ProviderSarvam    ProviderID = "sarvam"
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderKimi      ProviderID = "kimi"
	ProviderGemini    ProviderID = "gemini"
	ProviderLMStudio  ProviderID = "lmstudio"
	ProviderOllama    ProviderID = "ollama"
	ProviderGLM       ProviderID = "glm"
	ProviderMiniMax   ProviderID = "minimax"
	ProviderDeepSeek  ProviderID = "deepseek"
	ProviderGroq      ProviderID = "groq"
)

// DefaultProvider is the provider used when nothing else is configured.
const DefaultProvider = ProviderSarvam

// providerEntry describes how to reach one provider.
type providerEntry struct {
	envPrefix    string
	defaultModel string
	baseURL      string // empty means the SDK default
	local        bool   // no real API key needed
	anthropic    bool   // uses the Anthropic SDK instead of the OpenAI-compatible one
}

var providerTable = map[ProviderID]providerEntry{
	ProviderSarvam:    {envPrefix: "SARVAM", defaultModel: "sarvam-m", baseURL: "https://api.sarvam.ai/v1"},
	ProviderOpenAI:    {envPrefix: "OPENAI", defaultModel: "gpt-4o-mini"},
	ProviderAnthropic: {envPrefix: "ANTHROPIC", defaultModel: "claude-3-5-sonnet-20241022", anthropic: true},
	ProviderKimi:      {envPrefix: "KIMI", defaultModel: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3"},
	ProviderGemini:    {envPrefix: "GEMINI", defaultModel: "gemini-1.5-flash", baseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	ProviderLMStudio:  {envPrefix: "LMSTUDIO", defaultModel: "local-model", baseURL: "http://localhost:1234/v1", local: true},
	ProviderOllama:    {envPrefix: "OLLAMA", defaultModel: "llama3.1", baseURL: "http://localhost:11434/v1", local: true},
	ProviderGLM:       {envPrefix: "GLM", defaultModel: "glm-4-plus", baseURL: "https://open.bigmodel.cn/api/paas/v4"},
	ProviderMiniMax:   {envPrefix: "MINIMAX", defaultModel: "abab6.5s-chat", baseURL: "https://api.minimax.chat/v1"},
	ProviderDeepSeek:  {envPrefix: "DEEPSEEK", defaultModel: "deepseek-chat", baseURL: "https://api.deepseek.com/v1"},
	ProviderGroq:      {envPrefix: "GROQ", defaultModel: "llama-3.1-70b-versatile", baseURL: "https://api.groq.com/openai/v1"},
}

// Supported lists every provider id in a stable order.
func Supported() []ProviderID {
	return []ProviderID{
		ProviderSarvam, ProviderOpenAI, ProviderAnthropic, ProviderKimi, ProviderGemini,
		ProviderLMStudio, ProviderOllama, ProviderGLM, ProviderMiniMax, ProviderDeepSeek, ProviderGroq,
	}
}

// ParseProviderID validates a provider name.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	if id == "" {
		return DefaultProvider, nil
	}
	if _, ok := providerTable[id]; !ok {
		names := make([]string, 0, len(providerTable))
		for _, p := range Supported() {
			names = append(names, string(p))
		}
		return "", fmt.Errorf("unknown provider: %s (supported: %s)", s, strings.Join(names, ", "))
	}
	return id, nil
}

// EnvPrefix returns the environment variable prefix for a provider.
func EnvPrefix(id ProviderID) string {
	return providerTable[id].envPrefix
}

// Settings is what a provider client needs to be built.
type Settings struct {
	APIKey  string
	Model   string
	BaseURL string
}

// SettingsFromEnv reads <PREFIX>_API_KEY, <PREFIX>_MODEL and <PREFIX>_BASE_URL
// for the provider, filling gaps with the provider defaults.
func SettingsFromEnv(id ProviderID) (Settings, error) {
	entry, ok := providerTable[id]
	if !ok {
		return Settings{}, fmt.Errorf("unknown provider: %s", id)
	}

	s := Settings{
		APIKey:  os.Getenv(entry.envPrefix + "_API_KEY"),
		Model:   os.Getenv(entry.envPrefix + "_MODEL"),
		BaseURL: os.Getenv(entry.envPrefix + "_BASE_URL"),
	}
	// The original deployment exported the Sarvam key under this name
	if id == ProviderSarvam && s.APIKey == "" {
		s.APIKey = os.Getenv("CHATBOT_API_KEY")
	}
	return s.withDefaults(id), nil
}

func (s Settings) withDefaults(id ProviderID) Settings {
	entry := providerTable[id]
	if s.Model == "" {
		s.Model = entry.defaultModel
	}
	if s.BaseURL == "" {
		s.BaseURL = entry.baseURL
	}
	if s.APIKey == "" && entry.local {
		s.APIKey = string(id)
	}
	return s
}

// NewClient builds the SDK client for a provider.
func NewClient(id ProviderID, s Settings) (engine.LLMClient, string, error) {
	entry, ok := providerTable[id]
	if !ok {
		return nil, "", fmt.Errorf("unknown provider: %s", id)
	}
	s = s.withDefaults(id)

	if s.APIKey == "" {
		return nil, "", fmt.Errorf("%s_API_KEY not set", entry.envPrefix)
	}

	if entry.anthropic {
		client, err := NewAnthropicClient(s.APIKey, s.Model, s.BaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create %s client: %w", id, err)
		}
		return client, s.Model, nil
	}

	client, err := NewOpenAIClient(s.APIKey, s.Model, s.BaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", id, err)
	}
	return client, s.Model, nil
}

var statusCodePattern = regexp.MustCompile(`status code:?\s*(\d{3})`)

// extractErrorMetadata extracts HTTP status code, body and Retry-After from an
// error message. Used for SDK errors that do not expose typed fields.
func extractErrorMetadata(err error) (int, string, string) {
	if err == nil {
		return 0, "", ""
	}

	// Transport failures never carry a status; their URLs may contain digits
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return 0, "", ""
	}

	errStr := err.Error()
	var httpStatus int

	if m := statusCodePattern.FindStringSubmatch(errStr); m != nil {
		httpStatus, _ = strconv.Atoi(m[1])
	} else if strings.Contains(errStr, "429") {
		httpStatus = http.StatusTooManyRequests
	} else if strings.Contains(errStr, "500") {
		httpStatus = http.StatusInternalServerError
	} else if strings.Contains(errStr, "502") {
		httpStatus = http.StatusBadGateway
	} else if strings.Contains(errStr, "503") {
		httpStatus = http.StatusServiceUnavailable
	} else if strings.Contains(errStr, "504") {
		httpStatus = http.StatusGatewayTimeout
	} else if strings.Contains(errStr, "401") {
		httpStatus = http.StatusUnauthorized
	} else if strings.Contains(errStr, "403") {
		httpStatus = http.StatusForbidden
	} else if strings.Contains(errStr, "400") {
		httpStatus = http.StatusBadRequest
	} else if strings.Contains(errStr, "402") {
		httpStatus = http.StatusPaymentRequired
	}

	var body string
	if httpStatus != 0 {
		body = errStr
	}

	return httpStatus, body, extractRetryAfter(errStr)
}

// extractRetryAfter finds "Retry-After: 60" or "retry after 60" in a message.
func extractRetryAfter(errStr string) string {
	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after", "retry after"} {
		idx := strings.Index(lower, marker)
		if idx == -1 {
			continue
		}
		remaining := strings.TrimLeft(errStr[idx+len(marker):], ": ")
		parts := strings.Fields(remaining)
		if len(parts) > 0 {
			return parts[0]
		}
	}
	return ""
}
