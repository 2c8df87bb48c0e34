package config

import "testing"

func TestConfig_Set(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(c *Config) bool
	}{
		{"provider", "openai", false, func(c *Config) bool { return c.LLMProvider == "openai" }},
		{"store", "sqlite", false, func(c *Config) bool { return c.StoreBackend == "sqlite" }},
		{"history_window", "8", false, func(c *Config) bool { return c.HistoryWindow == 8 }},
		{"max_retries", "0", false, func(c *Config) bool { return c.MaxRetries != nil && *c.MaxRetries == 0 }},
		{"temperature", "0.2", false, func(c *Config) bool { return c.Temperature > 0.19 && c.Temperature < 0.21 }},
		{"continuation", "false", false, func(c *Config) bool { return c.Continuation != nil && !*c.Continuation }},
		{"TTS", "true", false, func(c *Config) bool { return c.TTS }},
		{"timeout", "30", false, func(c *Config) bool { return c.TimeoutSeconds == 30 }},
		{"history_window", "-1", true, nil},
		{"temperature", "5", true, nil},
		{"tts", "maybe", true, nil},
		{"colour", "blue", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			c := &Config{}
			err := c.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(c) {
				t.Errorf("config after Set = %+v", c)
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	if MaskSecret("") != "" || MaskSecret("abc") != "****" {
		t.Error("short secrets must be fully hidden")
	}
	if got := MaskSecret("sk-1234567890"); got != "********7890" {
		t.Errorf("MaskSecret = %q", got)
	}
}
