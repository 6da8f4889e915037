package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <room> <message...>",
	Short: "Send a text message to a room",
	Long: `Send an m.text message. The room is either a room id (!abc:server) or an
alias (#room:server); aliases are joined first to resolve them.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := strings.Join(args[1:], " ")
		if strings.TrimSpace(body) == "" {
			return errors.New("message is empty")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := newEngine(cfg, nil, nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := ensureLogin(ctx, eng, cfg, false); err != nil {
			return err
		}

		roomID := args[0]
		if !strings.HasPrefix(roomID, "!") {
			roomID, err = eng.JoinRoom(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", args[0], err)
			}
		}

		eventID, err := eng.SendText(ctx, roomID, body)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), eventID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
