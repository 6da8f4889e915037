package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shawkym/roomsync/pkg/archive"
	"github.com/shawkym/roomsync/pkg/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <room-id>",
	Short: "Export archived messages to JSON, Markdown or HTML",
	Long: `Export a room's archived messages, oldest first.

Examples:
  # Markdown to stdout
  roomsync export '!abc:matrix.org'

  # HTML page with a title
  roomsync export '!abc:matrix.org' --format html --title "Team room" -o team.html

  # The last 50 messages as JSON
  roomsync export '!abc:matrix.org' --format json -n 50
`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportFormat     string
	exportOutput     string
	exportSummary    bool
	exportTimestamps bool
	exportTitle      string
	exportLimit      int
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "Export format (json, markdown, html)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().BoolVar(&exportSummary, "summary", true, "Include message and sender counts")
	exportCmd.Flags().BoolVar(&exportTimestamps, "timestamps", true, "Include timestamps")
	exportCmd.Flags().StringVar(&exportTitle, "title", "", "Document title (default: the room id)")
	exportCmd.Flags().IntVarP(&exportLimit, "limit", "n", 1000, "Maximum number of messages")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := archive.Open(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	roomID := args[0]
	recent, err := store.Recent(cmd.Context(), roomID, exportLimit)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return fmt.Errorf("no archived messages for %s", roomID)
	}
	messages := make([]archive.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		messages = append(messages, recent[i])
	}

	title := exportTitle
	if title == "" {
		title = fmt.Sprintf("Room %s", roomID)
	}
	exporter := export.NewExporter(export.Options{
		Format:            format,
		IncludeSummary:    exportSummary,
		IncludeTimestamps: exportTimestamps,
		Title:             title,
	})

	var writer io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close output file: %v\n", closeErr)
			}
		}()
		writer = f
	}

	if err := exporter.Export(messages, writer); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if exportOutput != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✅ Exported %d messages to %s\n", len(messages), exportOutput)
	}
	return nil
}
