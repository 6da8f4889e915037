package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shawkym/roomsync/pkg/config"
	"github.com/shawkym/roomsync/pkg/engine"
	"github.com/shawkym/roomsync/pkg/log"
)

var (
	runNoLog       bool
	runLogDir      string
	runAutoJoin    bool
	runArchive     bool
	runMetricsAddr string
	runFullState   bool
	runResync      bool
	runWatchConfig bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log in and follow rooms until interrupted",
	Long: `Log in (or reuse the saved session), then long-poll the homeserver and
hand every event to the configured consumers. The first Ctrl+C finishes the
current poll and saves the sync cursor; a second one aborts immediately.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runNoLog, "no-log", false, "Disable the chat log file")
	runCmd.Flags().StringVar(&runLogDir, "log-dir", "", "Directory for chat logs (default: ~/.roomsync/chats)")
	runCmd.Flags().BoolVar(&runAutoJoin, "auto-join", false, "Join rooms on invitation (overrides config)")
	runCmd.Flags().BoolVar(&runArchive, "archive", false, "Store messages in the SQLite archive (overrides config)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&runFullState, "full-state", false, "Request full room state on every sync")
	runCmd.Flags().BoolVar(&runResync, "resync", false, "Ignore the saved cursor and start with an initial sync")
	runCmd.Flags().BoolVar(&runWatchConfig, "watch-config", true, "Reload auto-join and log level when the config file changes")
}

// applyRunFlags copies explicitly set flags over cfg.
func applyRunFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if runNoLog {
		cfg.Logging.Enabled = false
	}
	if runLogDir != "" {
		cfg.Logging.ChatLogDir = runLogDir
	}
	if flags.Changed("auto-join") {
		cfg.AutoJoin.Enabled = runAutoJoin
	}
	if flags.Changed("archive") {
		cfg.Archive.Enabled = runArchive
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = runMetricsAddr
	}
	if flags.Changed("full-state") {
		cfg.Sync.FullState = runFullState
	}

	options := make(map[string]interface{})
	flags.Visit(func(flag *pflag.Flag) {
		options[flag.Name] = flag.Value.String()
	})
	if len(options) > 0 {
		log.WithFields(options).Debug("command line overrides")
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd.Flags(), cfg)

	opts := pipelineOptions{console: cmd.OutOrStdout()}
	if runWatchConfig {
		opts.watchPath = configPath()
	}
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := ensureLogin(ctx, p.engine, cfg, false); err != nil {
		return err
	}
	if runResync {
		p.engine.ResetCursor()
	}

	stopSignals := handleSignals(ctx, p.engine, cancel)
	defer stopSignals()

	fmt.Fprintf(cmd.ErrOrStderr(), "🔄 Syncing %s as %s (Ctrl+C to stop)\n", cfg.Homeserver, cfg.UserID)
	if p.chat != nil {
		p.chat.LogSystem(fmt.Sprintf("Following %s", cfg.Homeserver))
	}
	if err := p.run(ctx, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✅ Stopped. Cursor saved to %s\n", cfg.SessionFile)
	return nil
}

// handleSignals stops the engine on the first interrupt and cancels ctx on
// the second. The returned func detaches the handler.
func handleSignals(ctx context.Context, eng *engine.Engine, cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				interrupts++
				if interrupts == 1 {
					fmt.Fprintln(os.Stderr, "\n⏸️  Interrupted. Finishing the current poll (Ctrl+C again to abort)...")
					eng.Stop()
					continue
				}
				fmt.Fprintln(os.Stderr, "\n⏹️  Aborting.")
				cancel()
				return
			}
		}
	}()

	return func() { signal.Stop(sigChan) }
}
