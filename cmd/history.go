package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shawkym/roomsync/pkg/archive"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Print archived messages for a room",
	Long: `Print the most recent messages stored in the SQLite archive for a room,
oldest first. Messages are archived while "run" or "watch" is active with
archiving enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Archive.Path == "" {
			return errors.New("no archive path configured")
		}

		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		messages, err := store.Recent(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(messages) == 0 {
			fmt.Fprintf(out, "No archived messages for %s\n", args[0])
			return nil
		}
		for i := len(messages) - 1; i >= 0; i-- {
			m := messages[i]
			body := strings.ReplaceAll(m.Body, "\n", "\n    ")
			fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("2006-01-02 15:04:05"), m.Sender, body)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of messages to print")
}
