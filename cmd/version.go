package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shawkym/roomsync/internal/version"
)

var checkUpdate bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the current version of roomsync and optionally check for a newer release.`,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout(), checkUpdate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&checkUpdate, "check-update", false, "Check for newer versions")
}

func printVersion(w io.Writer, check bool) {
	fmt.Fprintln(w, version.GetVersionString())
	if !check {
		return
	}

	fmt.Fprintln(w, "\n🔍 Checking for updates...")
	hasUpdate, latestVersion, err := version.CheckForUpdate()
	if err != nil {
		fmt.Fprintf(w, "   ⚠️  Could not check for updates: %v\n", err)
		return
	}

	switch {
	case hasUpdate:
		fmt.Fprintf(w, "\n📦 Update available!\n")
		fmt.Fprintf(w, "   Current version: %s (out of date)\n", version.GetShortVersion())
		fmt.Fprintf(w, "   Latest version:  %s\n", latestVersion)
		fmt.Fprintf(w, "\n   Download from: https://github.com/shawkym/roomsync/releases/latest\n")
	case latestVersion != "":
		fmt.Fprintf(w, "   ✅ You're running the latest version! (%s)\n", latestVersion)
	default:
		fmt.Fprintf(w, "   ℹ️  Update check unavailable for this build\n")
	}
}
