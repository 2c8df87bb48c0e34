package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AppName names the per-user config and data directories.
const AppName = "shiva"

// Config holds the user's persistent configuration preferences.
// Zero values mean "use the default".
type Config struct {
	LLMProvider string `json:"llm_provider,omitempty"` // sarvam, openai, anthropic, ...
	APIKey      string `json:"api_key,omitempty"`      // The API key for the selected provider
	Model       string `json:"model,omitempty"`        // Default model name
	BaseURL     string `json:"base_url,omitempty"`     // Optional override for API base URL

	UserID       string `json:"user_id,omitempty"`       // Opaque owner of the session collection
	DataDir      string `json:"data_dir,omitempty"`      // Sessions, logs and scratch audio
	StoreBackend string `json:"store_backend,omitempty"` // json or sqlite

	HistoryWindow   int     `json:"history_window,omitempty"`
	MaxMessageChars int     `json:"max_message_chars,omitempty"`
	MaxFileChars    int     `json:"max_file_chars,omitempty"`
	TimeoutSeconds  int     `json:"timeout_seconds,omitempty"`
	MaxRetries      *int    `json:"max_retries,omitempty"` // nil means default; 0 disables retries
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	Temperature     float32 `json:"temperature,omitempty"`
	Continuation    *bool   `json:"continuation,omitempty"`

	AssistantName string `json:"assistant_name,omitempty"`
	Instructions  string `json:"instructions,omitempty"` // Appended to the system prompt

	TTS       bool   `json:"tts"`                  // Speak assistant replies
	TTSVoice  string `json:"tts_voice,omitempty"`  // Voice for the speech endpoint
	SpeechKey string `json:"speech_key,omitempty"` // Optional separate OpenAI key for speech
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a configuration manager rooted at the user config dir.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, AppName)), nil
}

// NewManagerAt creates a configuration manager for an explicit directory.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// Dir returns the configuration directory.
func (m *Manager) Dir() string {
	return m.configDir
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.GetConfigPath())
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.GetConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
