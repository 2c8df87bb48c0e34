package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// runtimeFlags are the persistent flags shared by every command. Set flags
// win over the environment and config.json.
type runtimeFlags struct {
	provider string
	user     string
	dataDir  string
	store    string
	tts      bool
	verbose  bool
}

var flags runtimeFlags

var rootCmd = &cobra.Command{
	Use:   "shiva",
	Short: "Chat with hosted language models from the terminal",
	Long: `Shiva is an interactive chat client for hosted language models.

Conversations are kept as sessions with their own history and attached
files, persisted per user so they survive restarts.

Quick Start:
  shiva                          # start chatting
  shiva --provider openai        # chat with a different provider
  shiva sessions list            # list saved sessions
  shiva export --format md       # export the active session`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := prepareRuntimeEnv(cmd.Context(), flags)
		if err != nil {
			return err
		}
		defer env.Close()

		return runREPL(cmd.Context(), env, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.provider, "provider", "p", "", "Completion provider (sarvam, openai, anthropic, ...)")
	pf.StringVarP(&flags.user, "user", "u", "", "User id the sessions are stored under")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Directory for sessions, logs and scratch audio")
	pf.StringVar(&flags.store, "store", "", "Session store backend (json or sqlite)")
	pf.BoolVar(&flags.tts, "tts", false, "Speak assistant replies")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log to stderr at debug level")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
