package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shawkym/roomsync/internal/version"
	"github.com/shawkym/roomsync/pkg/config"
	"github.com/shawkym/roomsync/pkg/log"
)

var (
	cfgFile     string
	showVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "roomsync",
	Short: "Follow Matrix rooms from the terminal",
	Long: `roomsync is a Matrix client that long-polls a homeserver, keeps a local
directory of rooms and members, and hands every event to pluggable consumers:
a chat log, a SQLite archive, auto-join for invitations and a live TUI.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionString())
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.roomsync/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "V", false, "Show version information")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding verbose flag: %v\n", err)
	}
}

func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	log.InitLogger(os.Stderr, level, true)

	viper.SetEnvPrefix("roomsync")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		log.WithField("config_file", cfgFile).Debug("using specified config file")
	} else {
		viper.AddConfigPath(config.DefaultDir())
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("found configuration file")
	} else {
		log.WithError(err).Debug("no config file found, using defaults and environment")
	}
}

// configPath is the file the commands load: --config, or whatever viper
// found on its search path. Empty means none.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.ConfigFileUsed()
}

// loadConfig loads the config file when there is one, otherwise builds one
// from defaults and the environment. ROOMSYNC_HOMESERVER and ROOMSYNC_USER
// override both.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if path := configPath(); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil && !(cfgFile == "" && errors.Is(err, os.ErrNotExist)) {
			log.WithError(err).WithField("config_path", path).Error("failed to load configuration")
			return nil, err
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.NewDefaultConfig()
		cfg.ApplyEnv()
	}

	if v := viper.GetString("homeserver"); v != "" {
		cfg.Homeserver = v
	}
	if v := viper.GetString("user"); v != "" {
		cfg.UserID = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if !viper.GetBool("verbose") {
		log.SetLevel(log.ParseLevel(cfg.Logging.Level))
	}

	log.WithFields(map[string]interface{}{
		"config_path": configPath(),
		"homeserver":  cfg.Homeserver,
		"user":        cfg.UserID,
	}).Debug("configuration loaded")
	return cfg, nil
}

func defaultConfigFile() string {
	return filepath.Join(config.DefaultDir(), "config.yaml")
}
