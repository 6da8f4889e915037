package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginForce bool
	loginUser  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the session",
	Long: `Exchange the configured user and password for an access token and store it
in the session file. An existing token is kept unless --force is given.
Without a configured password the command prompts for one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if loginUser != "" {
			cfg.UserID = loginUser
		}

		eng, err := newEngine(cfg, nil, nil)
		if err != nil {
			return err
		}
		if eng.Session().Authenticated() && !loginForce {
			fmt.Fprintf(cmd.OutOrStdout(), "ℹ️  Already logged in to %s (use --force to log in again)\n", cfg.Homeserver)
			return nil
		}
		if err := ensureLogin(cmd.Context(), eng, cfg, loginForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Logged in as %s. Session saved to %s\n", eng.Session().UserID, cfg.SessionFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "Log in even if a session token is saved")
	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "", "Matrix user id (overrides config)")
}
