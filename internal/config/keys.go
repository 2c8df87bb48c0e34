package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// keySetters maps config.json keys to functions applying a string value.
var keySetters = map[string]func(c *Config, v string) error{
	"llm_provider":      func(c *Config, v string) error { c.LLMProvider = v; return nil },
	"api_key":           func(c *Config, v string) error { c.APIKey = v; return nil },
	"model":             func(c *Config, v string) error { c.Model = v; return nil },
	"base_url":          func(c *Config, v string) error { c.BaseURL = v; return nil },
	"user_id":           func(c *Config, v string) error { c.UserID = v; return nil },
	"data_dir":          func(c *Config, v string) error { c.DataDir = v; return nil },
	"store_backend":     func(c *Config, v string) error { c.StoreBackend = v; return nil },
	"history_window":    intSetter(func(c *Config) *int { return &c.HistoryWindow }),
	"max_message_chars": intSetter(func(c *Config) *int { return &c.MaxMessageChars }),
	"max_file_chars":    intSetter(func(c *Config) *int { return &c.MaxFileChars }),
	"timeout_seconds":   intSetter(func(c *Config) *int { return &c.TimeoutSeconds }),
	"max_output_tokens": intSetter(func(c *Config) *int { return &c.MaxOutputTokens }),
	"max_retries": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("max_retries must be a non-negative integer, got %q", v)
		}
		c.MaxRetries = &n
		return nil
	},
	"temperature": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 || f > 2 {
			return fmt.Errorf("temperature must be between 0 and 2, got %q", v)
		}
		c.Temperature = float32(f)
		return nil
	},
	"continuation": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("continuation must be true or false, got %q", v)
		}
		c.Continuation = &b
		return nil
	},
	"tts": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("tts must be true or false, got %q", v)
		}
		c.TTS = b
		return nil
	},
	"tts_voice":      func(c *Config, v string) error { c.TTSVoice = v; return nil },
	"speech_key":     func(c *Config, v string) error { c.SpeechKey = v; return nil },
	"assistant_name": func(c *Config, v string) error { c.AssistantName = v; return nil },
	"instructions":   func(c *Config, v string) error { c.Instructions = v; return nil },
}

func intSetter(field func(c *Config) *int) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("expected a non-negative integer, got %q", v)
		}
		*field(c) = n
		return nil
	}
}

// Keys lists the settable config.json keys.
func Keys() []string {
	keys := make([]string, 0, len(keySetters))
	for k := range keySetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns a config.json key from its string form. "provider" and
// "store" are accepted as short names.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case "provider":
		key = "llm_provider"
	case "store":
		key = "store_backend"
	case "timeout":
		key = "timeout_seconds"
	}
	set, ok := keySetters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	if err := set(c, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// MaskSecret hides all but the last four characters of a credential.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}
