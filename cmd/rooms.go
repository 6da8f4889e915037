package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shawkym/roomsync/pkg/directory"
	"github.com/shawkym/roomsync/pkg/engine"
)

var (
	roomsExact   bool
	roomsIDs     bool
	roomsUsers   bool
	roomsContact string
)

var roomsCmd = &cobra.Command{
	Use:   "rooms [name]",
	Short: "List joined rooms, optionally filtered by name",
	Long: `Run one initial sync and print the rooms it produced. With a name, only
rooms whose name contains it (or equals it with --exact) are listed; matching
ignores case. --users lists every known member instead, and --contact finds
the first member matching a name.

The saved sync cursor is left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		eng.ResetCursor()
		if err := eng.SyncOnce(ctx); err != nil {
			return err
		}

		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		return printDirectory(cmd.OutOrStdout(), eng, query)
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.Flags().BoolVar(&roomsExact, "exact", false, "Match names exactly instead of by substring")
	roomsCmd.Flags().BoolVar(&roomsIDs, "ids", false, "Print only room ids")
	roomsCmd.Flags().BoolVar(&roomsUsers, "users", false, "List all known users")
	roomsCmd.Flags().StringVar(&roomsContact, "contact", "", "Find the first user matching this name")
}

func matchMode() directory.Match {
	if roomsExact {
		return directory.Exact
	}
	return directory.Substring
}

func printDirectory(out io.Writer, eng *engine.Engine, query string) error {
	dir := eng.Directory()

	switch {
	case roomsContact != "":
		user, ok := dir.FindContact(roomsContact, matchMode())
		if !ok {
			return fmt.Errorf("no user matching %q", roomsContact)
		}
		fmt.Fprintln(out, user)
		return nil
	case roomsUsers:
		for _, user := range dir.AllKnownUsers() {
			fmt.Fprintln(out, user)
		}
		return nil
	}

	rooms := dir.Rooms()
	if query != "" {
		rooms = dir.FindRooms(query, matchMode())
	}

	if roomsIDs {
		for _, r := range rooms {
			fmt.Fprintln(out, r.ID)
		}
		return nil
	}

	if len(rooms) == 0 {
		fmt.Fprintln(out, "No rooms found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM ID\tNAME\tMEMBERS\tALIASES")
	for _, r := range rooms {
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, name, len(r.Members), strings.Join(r.Aliases, ","))
	}
	return w.Flush()
}
