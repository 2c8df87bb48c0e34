package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/shiva/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"s"},
	Short:   "Manage saved chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list [filter]",
	Short: "List sessions, newest first",
	Long:  `List saved sessions. An optional filter keeps sessions whose title contains it, ignoring case.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := prepareRuntimeEnv(cmd.Context(), flags)
		if err != nil {
			return err
		}
		defer env.Close()

		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}
		sessions := env.App.Sessions()
		printSessions(cmd.OutOrStdout(), sessions.Meta(filter), sessions.CurrentID())
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session by id or unique id prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := prepareRuntimeEnv(cmd.Context(), flags)
		if err != nil {
			return err
		}
		defer env.Close()

		ok, err := env.App.DeleteSession(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("refusing to delete the last remaining session")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted")
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(out io.Writer, metas []session.SessionMeta, currentID string) {
	if len(metas) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No sessions found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d session(s)", len(metas))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, " \t"+titleStyle.Render("ID")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Messages")+"\t"+titleStyle.Render("Files")+"\t"+titleStyle.Render("Created")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 90))

	now := time.Now()
	for _, m := range metas {
		marker := " "
		if m.ID == currentID {
			marker = activeMarker
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			marker,
			idStyle.Render(shortID(m.ID)),
			oneLine(m.Title, 50),
			countStyle.Render(strconv.Itoa(m.Messages)),
			strconv.Itoa(m.Files),
			dateStyle.Render(formatCreated(m.CreatedAt, now)),
		)
	}
	_ = w.Flush()
}
