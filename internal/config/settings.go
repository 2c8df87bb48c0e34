package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/providers"
)

// Store backends.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Defaults applied when neither config.json nor the environment set a value.
const (
	DefaultHistoryWindow   = 20
	DefaultMaxMessageChars = 4000
	DefaultMaxFileChars    = 3000
	DefaultTimeout         = 60 * time.Second
	DefaultMaxRetries      = 3
	DefaultTTSVoice        = "alloy"
)

// Settings is the fully resolved runtime configuration.
type Settings struct {
	Provider providers.ProviderID
	LLM      providers.Settings

	UserID       string
	DataDir      string
	StoreBackend string

	HistoryWindow   int
	MaxMessageChars int
	MaxFileChars    int

	Timeout      time.Duration
	MaxRetries   int
	Chat         engine.ChatOptions
	Continuation bool

	AssistantName string
	Instructions  string

	TTS       bool
	TTSVoice  string
	SpeechKey string

	Capabilities Capabilities
}

// LoadDotEnv loads .env from the working directory and then from the config
// directory. Variables already set in the process win.
func LoadDotEnv(configDir string) {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load env file", slog.String("path", path), slog.Any("error", err))
		}
	}
}

// Resolve merges defaults, cfg and the environment, in that order of
// increasing precedence.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	provider, err := providers.ParseProviderID(firstNonEmpty(os.Getenv("LLM_PROVIDER"), cfg.LLMProvider))
	if err != nil {
		return nil, err
	}

	llm, err := providers.SettingsFromEnv(provider)
	if err != nil {
		return nil, err
	}
	// config.json values apply to the provider they were saved for
	if cfg.LLMProvider == "" || cfg.LLMProvider == string(provider) {
		llm = mergeLLM(llm, cfg, provider)
	}

	s := &Settings{
		Provider:        provider,
		LLM:             llm,
		UserID:          firstNonEmpty(os.Getenv("SHIVA_USER"), cfg.UserID, currentUser()),
		DataDir:         firstNonEmpty(os.Getenv("SHIVA_DATA_DIR"), cfg.DataDir, defaultDataDir()),
		StoreBackend:    strings.ToLower(firstNonEmpty(os.Getenv("SHIVA_STORE"), cfg.StoreBackend, StoreJSON)),
		HistoryWindow:   envInt("SHIVA_HISTORY_WINDOW", orInt(cfg.HistoryWindow, DefaultHistoryWindow)),
		MaxMessageChars: envInt("SHIVA_MAX_MESSAGE_CHARS", orInt(cfg.MaxMessageChars, DefaultMaxMessageChars)),
		MaxFileChars:    envInt("SHIVA_MAX_FILE_CHARS", orInt(cfg.MaxFileChars, DefaultMaxFileChars)),
		Timeout:         time.Duration(envInt("SHIVA_TIMEOUT", orInt(cfg.TimeoutSeconds, int(DefaultTimeout/time.Second)))) * time.Second,
		MaxRetries:      DefaultMaxRetries,
		Chat:            engine.DefaultChatOptions(),
		Continuation:    true,
		AssistantName:   cfg.AssistantName,
		Instructions:    cfg.Instructions,
		TTS:             cfg.TTS,
		TTSVoice:        firstNonEmpty(os.Getenv("SHIVA_TTS_VOICE"), cfg.TTSVoice, DefaultTTSVoice),
	}

	if cfg.MaxRetries != nil {
		s.MaxRetries = *cfg.MaxRetries
	}
	s.MaxRetries = envInt("SHIVA_MAX_RETRIES", s.MaxRetries)
	if cfg.MaxOutputTokens > 0 {
		s.Chat.MaxOutputTokens = cfg.MaxOutputTokens
	}
	if cfg.Temperature > 0 {
		s.Chat.Temperature = cfg.Temperature
	}
	if cfg.Continuation != nil {
		s.Continuation = *cfg.Continuation
	}
	if v, ok := envBool("SHIVA_TTS"); ok {
		s.TTS = v
	}

	// Speech always talks to OpenAI
	s.SpeechKey = firstNonEmpty(os.Getenv("SHIVA_SPEECH_API_KEY"), cfg.SpeechKey, os.Getenv("OPENAI_API_KEY"))
	if s.SpeechKey == "" && provider == providers.ProviderOpenAI {
		s.SpeechKey = llm.APIKey
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	s.Capabilities = ResolveCapabilities(s, os.Getenv("SHIVA_DISABLE"))
	return s, nil
}

func (s *Settings) validate() error {
	switch s.StoreBackend {
	case StoreJSON, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", s.StoreBackend, StoreJSON, StoreSQLite)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", s.MaxRetries)
	}
	return nil
}

func mergeLLM(llm providers.Settings, cfg *Config, id providers.ProviderID) providers.Settings {
	prefix := providers.EnvPrefix(id)
	envKey := os.Getenv(prefix + "_API_KEY")
	if id == providers.ProviderSarvam && envKey == "" {
		envKey = os.Getenv("CHATBOT_API_KEY")
	}
	if envKey == "" && cfg.APIKey != "" {
		llm.APIKey = cfg.APIKey
	}
	if os.Getenv(prefix+"_MODEL") == "" && cfg.Model != "" {
		llm.Model = cfg.Model
	}
	if os.Getenv(prefix+"_BASE_URL") == "" && cfg.BaseURL != "" {
		llm.BaseURL = cfg.BaseURL
	}
	return llm
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "."+AppName)
	}
	return filepath.Join(home, "."+AppName)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", slog.String("key", key), slog.String("value", raw))
		return def
	}
	return v
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("ignoring invalid boolean setting", slog.String("key", key), slog.String("value", raw))
		return false, false
	}
	return v, true
}
