package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shawkym/roomsync/pkg/config"
	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/log"
	"github.com/shawkym/roomsync/pkg/tui"
)

var watchResync bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow rooms in an interactive terminal UI",
	Long: `Sync in the background and show the room list next to a live message feed.
Press ? inside the UI for key bindings. Diagnostics go to
~/.roomsync/watch.log while the UI owns the terminal.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchResync, "resync", true, "Start with an initial sync so the room list is complete")
	watchCmd.Flags().BoolVar(&runNoLog, "no-log", false, "Disable the chat log file")
	watchCmd.Flags().BoolVar(&runAutoJoin, "auto-join", false, "Join rooms on invitation (overrides config)")
	watchCmd.Flags().BoolVar(&runArchive, "archive", false, "Store messages in the SQLite archive (overrides config)")
	watchCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd.Flags(), cfg)

	feed := tui.NewObserver(0)
	p, err := newPipeline(cfg, pipelineOptions{
		watchPath: configPath(),
		observers: []dispatch.Observer{feed},
	})
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Log in before the UI takes the terminal so a password prompt works.
	if err := ensureLogin(ctx, p.engine, cfg, false); err != nil {
		return err
	}
	if watchResync {
		p.engine.ResetCursor()
	}

	closeLog := redirectLogs(cfg)
	defer closeLog()

	err = p.run(ctx, func(ctx context.Context) error {
		return tui.Run(ctx, tui.Options{
			Title:  fmt.Sprintf("roomsync · %s", cfg.UserID),
			Rooms:  p.engine.Directory(),
			Events: feed,
			Status: func() string { return p.engine.State().String() },
		})
	})
	if dropped := feed.Dropped(); dropped > 0 {
		log.WithField("dropped", dropped).Warn("feed entries dropped while the UI was busy")
	}
	return err
}

// redirectLogs sends diagnostics to watch.log next to the config so they do
// not draw over the UI.
func redirectLogs(cfg *config.Config) func() {
	level := log.ParseLevel(cfg.Logging.Level)
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}

	var out io.Writer = io.Discard
	var f *os.File
	if err := os.MkdirAll(config.DefaultDir(), 0700); err == nil {
		path := filepath.Join(config.DefaultDir(), "watch.log")
		if f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			out = f
		}
	}
	log.InitLogger(out, level, false)

	return func() {
		log.InitLogger(os.Stderr, level, true)
		if f != nil {
			f.Close()
		}
	}
}
