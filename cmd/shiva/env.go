package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/assembler"
	"github.com/ChamsBouzaiene/shiva/internal/chat"
	"github.com/ChamsBouzaiene/shiva/internal/config"
	"github.com/ChamsBouzaiene/shiva/internal/logger"
	"github.com/ChamsBouzaiene/shiva/internal/prompts"
	"github.com/ChamsBouzaiene/shiva/internal/providers"
	"github.com/ChamsBouzaiene/shiva/internal/search"
	"github.com/ChamsBouzaiene/shiva/internal/session"
	"github.com/ChamsBouzaiene/shiva/internal/speech"
)

type runtimeEnv struct {
	Settings *config.Settings
	Config   *config.Manager
	App      *chat.App

	// Warnings collected during start-up, shown in the REPL banner.
	Warnings []string

	backend  session.Backend
	closeLog func() error
}

func (r *runtimeEnv) Close() {
	if r.App != nil {
		if err := r.App.Close(); err != nil {
			slog.Warn("failed to close chat", slog.Any("error", err))
		}
	}
	if r.backend != nil {
		if err := r.backend.Close(); err != nil {
			slog.Warn("failed to close session store", slog.Any("error", err))
		}
	}
	if r.closeLog != nil {
		_ = r.closeLog()
	}
}

// loadSettings resolves config.json, .env, the environment and f.
func loadSettings(f runtimeFlags) (*config.Manager, *config.Settings, error) {
	cfgManager, err := config.NewManager()
	if err != nil {
		return nil, nil, err
	}

	userConfig, err := cfgManager.Load()
	if err != nil {
		slog.Warn("failed to load user config, using defaults", slog.Any("error", err))
		userConfig = &config.Config{}
	}

	config.LoadDotEnv(cfgManager.Dir())
	applyFlagsToEnv(f)

	settings, err := config.Resolve(userConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfgManager, settings, nil
}

// applyFlagsToEnv exports explicitly set flags so they take precedence in
// config.Resolve.
func applyFlagsToEnv(f runtimeFlags) {
	set := func(key, value string) {
		if value != "" {
			os.Setenv(key, value)
		}
	}
	set("LLM_PROVIDER", f.provider)
	set("SHIVA_USER", f.user)
	set("SHIVA_DATA_DIR", f.dataDir)
	set("SHIVA_STORE", f.store)
	if f.tts {
		set("SHIVA_TTS", strconv.FormatBool(true))
	}
}

func openBackend(ctx context.Context, s *config.Settings) (session.Backend, error) {
	switch s.StoreBackend {
	case config.StoreSQLite:
		if err := os.MkdirAll(s.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return session.NewSQLiteBackend(ctx, filepath.Join(s.DataDir, "sessions.db"))
	default:
		return session.NewFileBackend(s.DataDir)
	}
}

// prepareRuntimeEnv builds everything a command needs, from settings to the
// chat App.
func prepareRuntimeEnv(ctx context.Context, f runtimeFlags) (*runtimeEnv, error) {
	cfgManager, settings, err := loadSettings(f)
	if err != nil {
		return nil, err
	}

	env := &runtimeEnv{Settings: settings, Config: cfgManager}
	logCfg := logger.Config{DataDir: settings.DataDir, Console: f.verbose}
	if f.verbose {
		logCfg.Level = "debug"
	}
	env.closeLog = logger.Init(logCfg)

	slog.Info("starting shiva",
		slog.String("provider", string(settings.Provider)),
		slog.String("user", settings.UserID),
		slog.String("store", settings.StoreBackend),
		slog.Any("capabilities", settings.Capabilities.Names()),
	)

	backend, err := openBackend(ctx, settings)
	if err != nil {
		// Chat still works, it just is not persisted.
		slog.Warn("session store unavailable, sessions will not be saved", slog.Any("error", err))
		env.Warnings = append(env.Warnings, "session store unavailable: "+err.Error())
	} else {
		env.backend = backend
	}

	systemPrompt := prompts.SystemPrompt(settings.AssistantName, settings.Instructions)
	sessions := session.Open(ctx, env.backend, settings.UserID, systemPrompt)

	gateway := providers.NewGateway(
		providers.WithChatOptions(settings.Chat),
		providers.WithContinuation(settings.Continuation),
		providers.WithRetryHook(func(p providers.ProviderID, attempt int, delay time.Duration, err error) {
			fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("  %s busy, retry %d in %s", p, attempt, delay.Round(100*time.Millisecond))))
		}),
	)
	env.Warnings = append(env.Warnings, registerProviders(gateway, settings)...)

	opts := chat.Options{
		Sessions:     sessions,
		Gateway:      gateway,
		Provider:     settings.Provider,
		Capabilities: settings.Capabilities,
		Limits: assembler.Limits{
			HistoryWindow:   settings.HistoryWindow,
			MaxMessageChars: settings.MaxMessageChars,
			MaxFileChars:    settings.MaxFileChars,
		},
		MaxFileChars: settings.MaxFileChars,
		Timeout:      settings.Timeout,
		MaxRetries:   settings.MaxRetries,
	}

	if settings.Capabilities.Search {
		index, err := search.NewIndex()
		if err != nil {
			slog.Warn("search disabled", slog.Any("error", err))
		} else {
			opts.Index = index
		}
	}

	speechCfg := speech.Config{APIKey: settings.SpeechKey, Voice: settings.TTSVoice}
	if settings.Capabilities.TTS {
		scratch, err := speech.NewScratch(filepath.Join(settings.DataDir, "tmp"))
		if err != nil {
			slog.Warn("speech disabled", slog.Any("error", err))
		} else {
			opts.Scratch = scratch
			opts.Synthesizer = speech.NewSynthesizer(speechCfg, scratch, true)
		}
	}
	opts.Transcriber = speech.NewTranscriber(speechCfg, settings.Capabilities.Transcription)

	env.App = chat.New(opts)
	return env, nil
}

// registerProviders adds every provider that has credentials. The selected
// provider is always attempted and a failure is returned as a warning.
func registerProviders(g *providers.Gateway, s *config.Settings) []string {
	var warnings []string
	for _, id := range providers.Supported() {
		llm := s.LLM
		if id != s.Provider {
			var err error
			if llm, err = providers.SettingsFromEnv(id); err != nil {
				continue
			}
		}

		client, model, err := providers.NewClient(id, llm)
		if err != nil {
			if id == s.Provider {
				warnings = append(warnings, fmt.Sprintf("provider %s unavailable: %v", id, err))
			}
			slog.Debug("provider not registered", slog.String("provider", string(id)), slog.Any("error", err))
			continue
		}
		g.Register(id, client, model)
		slog.Debug("provider registered", slog.String("provider", string(id)), slog.String("model", model))
	}
	return warnings
}
