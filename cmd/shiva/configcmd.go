package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/shiva/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change persistent settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgManager, s, err := loadSettings(flags)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Settings"))
		fmt.Fprintf(out, "config file: %s\n\n", dateStyle.Render(cfgManager.GetConfigPath()))

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		rows := [][2]string{
			{"provider", string(s.Provider)},
			{"model", s.LLM.Model},
			{"base url", s.LLM.BaseURL},
			{"api key", config.MaskSecret(s.LLM.APIKey)},
			{"user", s.UserID},
			{"data dir", s.DataDir},
			{"store", s.StoreBackend},
			{"history window", fmt.Sprint(s.HistoryWindow)},
			{"max message chars", fmt.Sprint(s.MaxMessageChars)},
			{"max file chars", fmt.Sprint(s.MaxFileChars)},
			{"timeout", s.Timeout.String()},
			{"max retries", fmt.Sprint(s.MaxRetries)},
			{"max output tokens", fmt.Sprint(s.Chat.MaxOutputTokens)},
			{"temperature", fmt.Sprint(s.Chat.Temperature)},
			{"continuation", fmt.Sprint(s.Continuation)},
			{"tts voice", s.TTSVoice},
			{"speech key", config.MaskSecret(s.SpeechKey)},
			{"capabilities", strings.Join(s.Capabilities.Names(), ", ")},
		}
		for _, r := range rows {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", titleStyle.Render(r[0]), r[1])
		}
		return w.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Save a setting to config.json",
	Long:  "Save a setting to config.json.\n\nKeys: " + strings.Join(config.Keys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgManager, err := config.NewManager()
		if err != nil {
			return err
		}
		cfg, err := cfgManager.Load()
		if err != nil {
			return err
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := cfgManager.Save(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", args[0], cfgManager.GetConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
