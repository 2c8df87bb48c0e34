package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/shiva/internal/export"
)

var (
	exportFormat  string
	exportSession string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a session to a file",
	Long: `Export a chat session as json, yaml or md.

Without --session the active session is exported. Use "-" as --output to
write to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := prepareRuntimeEnv(cmd.Context(), flags)
		if err != nil {
			return err
		}
		defer env.Close()

		if exportOutput == "-" {
			_, err := env.App.Export(exportSession, exportFormat, cmd.OutOrStdout())
			return err
		}

		var buf bytes.Buffer
		name, err := env.App.Export(exportSession, exportFormat, &buf)
		if err != nil {
			return err
		}

		path := exportOutput
		if path == "" {
			path = name
		} else if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, name)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", fmt.Sprintf("Export format %v", export.Formats()))
	exportCmd.Flags().StringVarP(&exportSession, "session", "s", "", "Session id or unique prefix (default: active session)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file or directory (default: ./shiva-<id>.<ext>)")
	rootCmd.AddCommand(exportCmd)
}
